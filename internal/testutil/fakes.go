package testutil

import (
	"context"
	"sync"

	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/domain/ports"
)

// Compile-time interface checks
var (
	_ ports.Auditor           = (*RecordingAuditor)(nil)
	_ ports.ViolationNotifier = (*RecordingNotifier)(nil)
	_ ports.Terminator        = (*RecordingTerminator)(nil)
	_ ports.Inspector         = InspectorFunc(nil)
	_ ports.ImageClassifier   = (*StaticClassifier)(nil)
)

// RecordingAuditor keeps every audit record.
type RecordingAuditor struct {
	mu      sync.Mutex
	records []entities.AuditRecord
}

func (a *RecordingAuditor) Audit(_ context.Context, rec entities.AuditRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

// Records returns a copy of the recorded audit records.
func (a *RecordingAuditor) Records() []entities.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]entities.AuditRecord(nil), a.records...)
}

// Count returns how many records of kind were recorded.
func (a *RecordingAuditor) Count(kind entities.AuditKind) int {
	n := 0
	for _, rec := range a.Records() {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}

// RecordingNotifier keeps every notified identity.
type RecordingNotifier struct {
	mu  sync.Mutex
	ids []entities.ProcessIdentity
}

func (n *RecordingNotifier) NotifyViolation(id entities.ProcessIdentity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
}

// Notified returns the notified identities in order.
func (n *RecordingNotifier) Notified() []entities.ProcessIdentity {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]entities.ProcessIdentity(nil), n.ids...)
}

// RecordingTerminator keeps every terminated identity.
type RecordingTerminator struct {
	mu         sync.Mutex
	terminated []entities.ProcessIdentity
}

func (t *RecordingTerminator) Terminate(id entities.ProcessIdentity, _ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminated = append(t.terminated, id)
}

// Terminated returns the terminated identities in order.
func (t *RecordingTerminator) Terminated() []entities.ProcessIdentity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]entities.ProcessIdentity(nil), t.terminated...)
}

// InspectorFunc adapts a function to ports.Inspector.
type InspectorFunc func(ctx context.Context, nr int) error

func (f InspectorFunc) Inspect(ctx context.Context, nr int) error {
	return f(ctx, nr)
}

// StaticClassifier classifies images from fixed maps.
type StaticClassifier struct {
	Trusted map[string]bool
	Tags    map[string]entities.Tag
}

func (c *StaticClassifier) IsFromTrustedSource(_ context.Context, image string) bool {
	return c.Trusted[image]
}

func (c *StaticClassifier) ReadEmbeddedClassification(_ context.Context, image string) (entities.Tag, bool, error) {
	tag, ok := c.Tags[image]
	return tag, ok, nil
}
