package policy

import (
	"context"
	"fmt"
	"syscall"

	"github.com/reglet-dev/procguard/domain/entities"
	domainerrors "github.com/reglet-dev/procguard/domain/errors"
)

// Filter maps (binding, syscall number) to a decision and enforces it.
// Decide and Enforce take no locks; concurrent callers only share the
// immutable profile tables.
type Filter struct {
	config policyConfig
}

// NewFilter creates a filter engine.
func NewFilter(opts ...Option) *Filter {
	return &Filter{config: newPolicyConfig(opts)}
}

// Decide returns the filter code for syscall nr under b's active profile in
// O(1). A profile without filter tables allows everything; a missing
// secondary table or an out-of-range number decides Deny.
func (f *Filter) Decide(b *Binding, conv entities.Convention, nr int) entities.FilterCode {
	fs := b.Profile().Filters()
	if fs == nil {
		return entities.FilterAllow
	}
	return fs.Table(conv).Get(nr)
}

// IsPermissive reports whether enforcement failures for b become audited allows.
func (f *Filter) IsPermissive(b *Binding) bool {
	return f.config.globalPermissive || b.Profile().Flags().Permissive
}

// Enforce decides syscall nr for b and acts on the decision:
//   - Allow returns nil.
//   - Inspect consults the inspector. Its error is returned as the
//     syscall's own error (wrapped in InspectFailureError); in permissive
//     mode the failure is audited and the call allowed.
//   - Deny is audited. In permissive mode the call is then allowed;
//     otherwise the process is notified, logged and terminated, and a
//     FilterDenyError is returned.
func (f *Filter) Enforce(ctx context.Context, b *Binding, conv entities.Convention, nr int) error {
	p := b.Profile()
	code := entities.FilterAllow
	if fs := p.Filters(); fs != nil {
		code = fs.Table(conv).Get(nr)
	}

	switch code {
	case entities.FilterAllow:
		return nil
	case entities.FilterInspect:
		return f.inspect(ctx, b, p, conv, nr)
	default:
		return f.deny(ctx, b, p, conv, nr)
	}
}

func (f *Filter) inspect(ctx context.Context, b *Binding, p *entities.Profile, conv entities.Convention, nr int) error {
	var err error
	if f.config.inspector == nil {
		err = syscall.ENOSYS
	} else {
		err = f.config.inspector.Inspect(ctx, nr)
	}
	if err == nil {
		return nil
	}

	permissive := f.config.globalPermissive || p.Flags().Permissive
	f.config.audit(ctx, entities.AuditRecord{
		Kind:       entities.AuditInspectFailure,
		Process:    b.Identity(),
		Tag:        p.Tag(),
		Syscall:    nr,
		Convention: conv,
		Reason:     err.Error(),
		Permissive: permissive,
	})
	if permissive {
		return nil
	}
	return &domainerrors.InspectFailureError{Syscall: nr, Err: err}
}

func (f *Filter) deny(ctx context.Context, b *Binding, p *entities.Profile, conv entities.Convention, nr int) error {
	permissive := f.config.globalPermissive || p.Flags().Permissive
	id := b.Identity()
	f.config.audit(ctx, entities.AuditRecord{
		Kind:       entities.AuditFilterDeny,
		Process:    id,
		Tag:        p.Tag(),
		Syscall:    nr,
		Convention: conv,
		Permissive: permissive,
	})
	if permissive {
		return nil
	}

	f.config.notifier.NotifyViolation(id)
	f.config.logger.Error("syscall denied",
		"syscall", nr,
		"convention", conv.String(),
		"pid", id.PID,
		"epoch", id.Epoch,
		"tag", p.Tag().String(),
	)
	f.config.terminator.Terminate(id, fmt.Sprintf("syscall %d denied", nr))
	return &domainerrors.FilterDenyError{Process: id, Syscall: nr, Convention: conv, Tag: p.Tag()}
}
