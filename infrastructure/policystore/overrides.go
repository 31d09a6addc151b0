package policystore

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/domain/ports"
)

// DefaultOverrideSuffix is appended to an executable path to locate its
// override files: <image><suffix>.yaml and <image><suffix>.policy.
const DefaultOverrideSuffix = ".procguard"

// OverrideOption configures an OverrideLoader.
type OverrideOption func(*overrideConfig)

type overrideConfig struct {
	logger *slog.Logger
	suffix string
	dir    string
}

func defaultOverrideConfig() overrideConfig {
	return overrideConfig{
		logger: slog.Default(),
		suffix: DefaultOverrideSuffix,
	}
}

// WithSuffix sets the suffix appended to executable paths.
func WithSuffix(suffix string) OverrideOption {
	return func(c *overrideConfig) {
		c.suffix = suffix
	}
}

// WithOverrideDir keeps override files in dir, named after the executable's
// base name, instead of next to the executable.
func WithOverrideDir(dir string) OverrideOption {
	return func(c *overrideConfig) {
		c.dir = dir
	}
}

// WithOverrideLogger sets the logger.
func WithOverrideLogger(l *slog.Logger) OverrideOption {
	return func(c *overrideConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// OverrideLoader maps executable images to their override files and parses
// them with the wrapped parsers.
type OverrideLoader struct {
	flags    ports.FlagsParser
	syscalls ports.OverrideParser
	config   overrideConfig
}

var (
	_ ports.FlagsParser    = (*OverrideLoader)(nil)
	_ ports.OverrideParser = (*OverrideLoader)(nil)
)

// NewOverrideLoader creates a loader reading attribute files with flags and
// policy files with syscalls.
func NewOverrideLoader(flags ports.FlagsParser, syscalls ports.OverrideParser, opts ...OverrideOption) *OverrideLoader {
	cfg := defaultOverrideConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &OverrideLoader{flags: flags, syscalls: syscalls, config: cfg}
}

// Paths returns the attribute and policy file paths for image.
func (l *OverrideLoader) Paths(image string) (attributes, policy string) {
	base := image
	if l.config.dir != "" {
		base = filepath.Join(l.config.dir, filepath.Base(image))
	}
	base += l.config.suffix
	return base + ".yaml", base + ".policy"
}

// ParseCapabilityFlags reads the override attributes of image.
func (l *OverrideLoader) ParseCapabilityFlags(ctx context.Context, image string) (entities.Flags, error) {
	path, _ := l.Paths(image)
	flags, err := l.flags.ParseCapabilityFlags(ctx, path)
	if err == nil {
		l.config.logger.Debug("override attributes found", "image", image, "path", path)
	}
	return flags, err
}

// ParseSyscallOverrides applies the override policy of image to table.
func (l *OverrideLoader) ParseSyscallOverrides(ctx context.Context, image string, table *entities.SyscallTable, resolve ports.TableResolver) error {
	_, path := l.Paths(image)
	return l.syscalls.ParseSyscallOverrides(ctx, path, table, resolve)
}
