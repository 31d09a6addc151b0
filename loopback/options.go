package loopback

import (
	"log/slog"
	"time"

	"github.com/reglet-dev/procguard/domain/ports"
)

// Option configures a Tagger.
type Option func(*taggerConfig)

type taggerConfig struct {
	auditor          ports.Auditor
	logger           *slog.Logger
	now              func() time.Time
	globalPermissive bool
}

func defaultTaggerConfig() taggerConfig {
	return taggerConfig{
		auditor: nil, // rejections are only logged
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// WithAuditor sets the sink for credential rejections.
func WithAuditor(a ports.Auditor) Option {
	return func(c *taggerConfig) {
		c.auditor = a
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *taggerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithGlobalPermissive makes every rejection an audited accept.
func WithGlobalPermissive(permissive bool) Option {
	return func(c *taggerConfig) {
		c.globalPermissive = permissive
	}
}

// WithClock overrides the audit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *taggerConfig) {
		if now != nil {
			c.now = now
		}
	}
}
