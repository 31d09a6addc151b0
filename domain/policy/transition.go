package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/reglet-dev/procguard/domain/entities"
	domainerrors "github.com/reglet-dev/procguard/domain/errors"
)

// TransitionValidator resolves and validates the profile switch performed
// at exec time.
type TransitionValidator struct {
	registry *Registry
	config   policyConfig
}

// NewTransitionValidator creates a validator resolving profiles from registry.
func NewTransitionValidator(registry *Registry, opts ...Option) *TransitionValidator {
	return &TransitionValidator{registry: registry, config: newPolicyConfig(opts)}
}

// Candidate is a resolved but uncommitted profile for an exec target.
// The caller owns one reference to Profile.
type Candidate struct {
	Profile    *entities.Profile
	Image      string
	Trusted    bool // image resides on verified storage
	Classified bool
	Fallback   bool // baseline used because the classified tag was unknown
}

// Resolve picks the candidate profile for image as executed by b:
//  1. the tag embedded in the image, if any;
//  2. otherwise the unprivileged default for untrusted images, or the
//     caller's current tag for trusted ones;
//  3. a per-executable override layered on that profile, when present.
//     Overrides are read for trusted images only, unless
//     WithUntrustedOverrides is set.
//
// An unknown tag falls back to the baseline profile.
func (v *TransitionValidator) Resolve(ctx context.Context, b *Binding, image string) (*Candidate, error) {
	c := &Candidate{Image: image}

	tag := b.Tag()
	if v.config.classifier != nil {
		c.Trusted = v.config.classifier.IsFromTrustedSource(ctx, image)
		embedded, ok, err := v.config.classifier.ReadEmbeddedClassification(ctx, image)
		if err != nil {
			v.config.logger.Warn("reading image classification failed", "image", image, "error", err)
		}
		if err == nil && ok {
			tag = embedded
			c.Classified = true
		}
	}
	if !c.Classified && !c.Trusted {
		tag = v.config.defaultTag
	}

	p, fallback, err := v.registry.AcquireOrBaseline(tag)
	if err != nil {
		return nil, fmt.Errorf("resolving profile for %s: %w", image, err)
	}
	if fallback {
		c.Fallback = true
		v.config.audit(ctx, entities.AuditRecord{
			Kind:    entities.AuditPolicyFallback,
			Process: b.Identity(),
			Tag:     p.Tag(),
			Image:   image,
			Reason:  fmt.Sprintf("no profile for tag %s", tag),
		})
	}

	if v.registry.OverridesEnabled() && (c.Trusted || v.config.untrustedOverrides) {
		override, err := v.registry.LoadOverride(ctx, image, p)
		switch {
		case err == nil:
			v.registry.Release(p)
			p = override
		case errors.Is(err, domainerrors.ErrPolicyNotFound):
		default:
			v.registry.Release(p)
			return nil, fmt.Errorf("loading override for %s: %w", image, err)
		}
	}

	c.Profile = p
	return c, nil
}

// check applies the transition rules to a resolved candidate.
func (v *TransitionValidator) check(b *Binding, c *Candidate) *domainerrors.TransitionDeniedError {
	deny := func(reason domainerrors.TransitionDenyReason) *domainerrors.TransitionDeniedError {
		return &domainerrors.TransitionDeniedError{
			Reason:  reason,
			Image:   c.Image,
			Process: b.Identity(),
			From:    b.Tag(),
			To:      c.Profile.Tag(),
		}
	}

	if b.Elevated() {
		switch {
		case v.config.forbidElevatedExec:
			return deny(domainerrors.DenyGloballyForbidden)
		case !c.Trusted:
			return deny(domainerrors.DenyUntrustedLocation)
		case c.Profile.Tag() != v.config.handoffTag:
			return deny(domainerrors.DenyDisallowedTarget)
		}
		return nil
	}

	// An unprivileged binding with no-new-privileges latched cannot gain them.
	if b.NoNewPrivileges() && c.Profile.Elevated() {
		return deny(domainerrors.DenyDisallowedTarget)
	}
	return nil
}

// Exec runs the exec-time state machine for b executing image. On success
// the candidate is installed and the old profile released. On rejection the
// binding keeps its pre-exec profile, the denial is audited, a violation
// notification is raised if configured, and a TransitionDeniedError is
// returned. There is no retry.
func (v *TransitionValidator) Exec(ctx context.Context, b *Binding, image string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exited.Load() {
		return ErrBindingExited
	}

	b.transitional.Store(true)
	defer b.transitional.Store(false)

	c, err := v.Resolve(ctx, b, image)
	if err != nil {
		return err
	}

	if denied := v.check(b, c); denied != nil {
		v.registry.Release(c.Profile)
		v.config.audit(ctx, entities.AuditRecord{
			Kind:        entities.AuditTransitionDenied,
			Process:     b.Identity(),
			Tag:         denied.To,
			PreviousTag: denied.From,
			Image:       image,
			Reason:      string(denied.Reason),
		})
		if v.config.notifyOnTransitionDenial {
			v.config.notifier.NotifyViolation(b.Identity())
		}
		return denied
	}

	from := b.Tag()
	b.install(c.Profile)
	v.config.logger.Debug("profile transition",
		"pid", b.Identity().PID,
		"image", image,
		"from", from.String(),
		"to", c.Profile.Tag().String(),
	)
	return nil
}

// IsTransitionTargetAllowed reports whether b may exec image without
// committing anything.
func (v *TransitionValidator) IsTransitionTargetAllowed(ctx context.Context, b *Binding, image string) bool {
	c, err := v.Resolve(ctx, b, image)
	if err != nil {
		return false
	}
	defer v.registry.Release(c.Profile)
	return v.check(b, c) == nil
}
