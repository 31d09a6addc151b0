package procguard

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/domain/ports"
)

// engineConfig holds the collaborators New wires together. Unset fields are
// built from the configuration document.
type engineConfig struct {
	logger     *slog.Logger
	auditor    ports.Auditor
	notifier   ports.ViolationNotifier
	terminator ports.Terminator
	inspector  ports.Inspector
	classifier ports.ImageClassifier
	store      ports.BundleStore
	registerer prometheus.Registerer
	compiled   []ports.CompiledProfile
	profiles   []*entities.Profile
	overrides  bool
}

func defaultEngineConfig() engineConfig {
	return engineConfig{overrides: true}
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithLogger sets the logger. Default: built from the document's log_level.
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = l
	}
}

// WithAuditor sets the audit sink. Default: SlogAuditor.
func WithAuditor(a ports.Auditor) Option {
	return func(c *engineConfig) {
		c.auditor = a
	}
}

// WithNotifier sets the violation notifier. Default: SIGSYS notifier.
func WithNotifier(n ports.ViolationNotifier) Option {
	return func(c *engineConfig) {
		c.notifier = n
	}
}

// WithTerminator sets the terminator. Default: SIGKILL terminator.
func WithTerminator(t ports.Terminator) Option {
	return func(c *engineConfig) {
		c.terminator = t
	}
}

// WithInspector sets the Inspect-class validator. Default: the document's
// inspector_module, if any.
func WithInspector(i ports.Inspector) Option {
	return func(c *engineConfig) {
		c.inspector = i
	}
}

// WithClassifier sets the image classifier. Default: verified_storage and
// static_tags from the document plus embedded classification.
func WithClassifier(cl ports.ImageClassifier) Option {
	return func(c *engineConfig) {
		c.classifier = cl
	}
}

// WithBundleStore sets where compiled profiles are loaded from.
// Default: a file store at the document's bundle_path.
func WithBundleStore(s ports.BundleStore) Option {
	return func(c *engineConfig) {
		c.store = s
	}
}

// WithCompiledProfiles registers compiled profiles directly; the bundle
// store is not read.
func WithCompiledProfiles(compiled ...ports.CompiledProfile) Option {
	return func(c *engineConfig) {
		c.compiled = append(c.compiled, compiled...)
	}
}

// WithProfiles registers static profiles directly; the bundle store is not read.
func WithProfiles(profiles ...*entities.Profile) Option {
	return func(c *engineConfig) {
		c.profiles = append(c.profiles, profiles...)
	}
}

// WithMetrics counts audit records on r.
func WithMetrics(r prometheus.Registerer) Option {
	return func(c *engineConfig) {
		c.registerer = r
	}
}

// WithOverrides enables or disables per-executable overrides. Default: enabled.
func WithOverrides(enabled bool) Option {
	return func(c *engineConfig) {
		c.overrides = enabled
	}
}
