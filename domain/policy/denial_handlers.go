package policy

import (
	"context"
	"log/slog"

	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/domain/ports"
)

// Ensure implementations satisfy the interfaces.
var (
	_ ports.Auditor           = (*SlogAuditor)(nil)
	_ ports.Auditor           = NopAuditor{}
	_ ports.Auditor           = MultiAuditor(nil)
	_ ports.ViolationNotifier = NopNotifier{}
	_ ports.Terminator        = (*LogTerminator)(nil)
)

// SlogAuditor logs audit records. Enforced outcomes are logged at WARN,
// permissive allows at INFO.
type SlogAuditor struct {
	Logger *slog.Logger
}

func (a *SlogAuditor) Audit(ctx context.Context, rec entities.AuditRecord) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelWarn
	if rec.Permissive {
		level = slog.LevelInfo
	}
	attrs := []slog.Attr{
		slog.String("kind", string(rec.Kind)),
		slog.Uint64("pid", uint64(rec.Process.PID)),
		slog.Uint64("epoch", rec.Process.Epoch),
		slog.String("tag", rec.Tag.String()),
	}
	switch rec.Kind {
	case entities.AuditFilterDeny, entities.AuditInspectFailure:
		attrs = append(attrs, slog.Int("syscall", rec.Syscall), slog.String("convention", rec.Convention.String()))
	case entities.AuditCredentialRejected:
		attrs = append(attrs, slog.Int("port", int(rec.Port)))
	case entities.AuditTransitionDenied:
		attrs = append(attrs, slog.String("image", rec.Image), slog.String("previous_tag", rec.PreviousTag.String()))
	}
	if rec.Image != "" && rec.Kind != entities.AuditTransitionDenied {
		attrs = append(attrs, slog.String("image", rec.Image))
	}
	if rec.Reason != "" {
		attrs = append(attrs, slog.String("reason", rec.Reason))
	}
	attrs = append(attrs, slog.Bool("permissive", rec.Permissive))
	logger.LogAttrs(ctx, level, "audit", attrs...)
}

// NopAuditor does nothing.
type NopAuditor struct{}

func (NopAuditor) Audit(context.Context, entities.AuditRecord) {}

// MultiAuditor fans a record out to every auditor in order.
type MultiAuditor []ports.Auditor

func (m MultiAuditor) Audit(ctx context.Context, rec entities.AuditRecord) {
	for _, a := range m {
		a.Audit(ctx, rec)
	}
}

// NopNotifier does nothing.
type NopNotifier struct{}

func (NopNotifier) NotifyViolation(entities.ProcessIdentity) {}

// LogTerminator only logs. It is the default so the engine can run as a
// library without owning real processes; hosts install a real Terminator.
type LogTerminator struct {
	Logger *slog.Logger
}

func (t *LogTerminator) Terminate(id entities.ProcessIdentity, reason string) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("terminating process", "pid", id.PID, "epoch", id.Epoch, "reason", reason)
}
