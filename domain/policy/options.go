package policy

import (
	"context"
	"log/slog"
	"time"

	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/domain/ports"
)

// policyConfig holds the enforcement configuration shared by the transition
// validator and the filter engine. It replaces process-wide toggles with an
// explicit object built once from options.
type policyConfig struct {
	auditor    ports.Auditor
	notifier   ports.ViolationNotifier
	terminator ports.Terminator
	inspector  ports.Inspector
	classifier ports.ImageClassifier
	logger     *slog.Logger
	now        func() time.Time

	handoffTag entities.Tag // only destination an elevated caller may exec into
	defaultTag entities.Tag // profile for unclassified untrusted images

	globalPermissive         bool
	forbidElevatedExec       bool
	notifyOnTransitionDenial bool
	untrustedOverrides       bool // honor overrides for images off verified storage
}

func defaultPolicyConfig() policyConfig {
	return policyConfig{
		auditor:                  &SlogAuditor{},
		notifier:                 NopNotifier{},
		terminator:               &LogTerminator{},
		inspector:                nil, // Inspect-class syscalls fail closed without one
		classifier:               nil, // every image is untrusted and unclassified
		logger:                   slog.Default(),
		now:                      time.Now,
		notifyOnTransitionDenial: true,
	}
}

// Option configures the transition validator and the filter engine.
type Option func(*policyConfig)

// WithAuditor sets the sink for audit records.
func WithAuditor(a ports.Auditor) Option {
	return func(c *policyConfig) {
		c.auditor = a
	}
}

// WithNotifier sets the violation notifier.
func WithNotifier(n ports.ViolationNotifier) Option {
	return func(c *policyConfig) {
		c.notifier = n
	}
}

// WithTerminator sets how denied processes are terminated.
func WithTerminator(t ports.Terminator) Option {
	return func(c *policyConfig) {
		c.terminator = t
	}
}

// WithInspector sets the validator consulted for Inspect-class syscalls.
func WithInspector(i ports.Inspector) Option {
	return func(c *policyConfig) {
		c.inspector = i
	}
}

// WithClassifier sets the executable image classifier.
func WithClassifier(cl ports.ImageClassifier) Option {
	return func(c *policyConfig) {
		c.classifier = cl
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *policyConfig) {
		c.logger = l
	}
}

// WithClock overrides the time source used to stamp audit records.
func WithClock(now func() time.Time) Option {
	return func(c *policyConfig) {
		c.now = now
	}
}

// WithGlobalPermissive turns every would-be-fatal outcome into an audited allow.
func WithGlobalPermissive(enabled bool) Option {
	return func(c *policyConfig) {
		c.globalPermissive = enabled
	}
}

// WithForbidElevatedExec rejects every exec from an elevated binding.
func WithForbidElevatedExec(forbid bool) Option {
	return func(c *policyConfig) {
		c.forbidElevatedExec = forbid
	}
}

// WithHandoffTag sets the single tag an elevated binding may exec into.
func WithHandoffTag(tag entities.Tag) Option {
	return func(c *policyConfig) {
		c.handoffTag = tag
	}
}

// WithDefaultTag sets the unprivileged profile given to unclassified untrusted images.
func WithDefaultTag(tag entities.Tag) Option {
	return func(c *policyConfig) {
		c.defaultTag = tag
	}
}

// WithTransitionDenialNotify enables/disables the violation notification
// raised when an exec is rejected. Default is true.
func WithTransitionDenialNotify(enabled bool) Option {
	return func(c *policyConfig) {
		c.notifyOnTransitionDenial = enabled
	}
}

// WithUntrustedOverrides lets images outside verified storage pick up a
// per-executable override. Only enable it when override files live in a
// directory the image owner cannot write. Default is false.
func WithUntrustedOverrides(enabled bool) Option {
	return func(c *policyConfig) {
		c.untrustedOverrides = enabled
	}
}

func newPolicyConfig(opts []Option) policyConfig {
	cfg := defaultPolicyConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.auditor == nil {
		cfg.auditor = NopAuditor{}
	}
	if cfg.notifier == nil {
		cfg.notifier = NopNotifier{}
	}
	if cfg.terminator == nil {
		cfg.terminator = &LogTerminator{}
	}
	return cfg
}

func (c *policyConfig) audit(ctx context.Context, rec entities.AuditRecord) {
	if rec.Time.IsZero() {
		rec.Time = c.now()
	}
	c.auditor.Audit(ctx, rec)
}
