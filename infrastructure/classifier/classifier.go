// Package classifier decides where executable images come from and which
// profile tag they carry.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/domain/ports"
)

// DefaultXattr is the extended attribute holding an embedded tag.
const DefaultXattr = "user.procguard.tag"

// DefaultSidecarSuffix names the file next to an image holding its tag.
const DefaultSidecarSuffix = ".tag"

// ErrNoXattr is returned by the xattr reader when the attribute is absent
// or extended attributes are unsupported.
var ErrNoXattr = errors.New("no classification attribute")

type classifierConfig struct {
	logger          *slog.Logger
	xattr           string
	sidecarSuffix   string
	trusted         []string
	static          []staticRule
	resolveSymlinks bool
}

type staticRule struct {
	pattern string
	tag     entities.Tag
}

func defaultClassifierConfig() classifierConfig {
	return classifierConfig{
		logger:          slog.Default(),
		xattr:           DefaultXattr,
		sidecarSuffix:   DefaultSidecarSuffix,
		resolveSymlinks: true, // a symlink on verified storage may point anywhere
	}
}

// Option configures a Classifier.
type Option func(*classifierConfig)

// WithTrustedPatterns sets the doublestar patterns of verified storage,
// e.g. "/system/**". Invalid patterns are dropped.
func WithTrustedPatterns(patterns ...string) Option {
	return func(c *classifierConfig) {
		for _, p := range patterns {
			if doublestar.ValidatePattern(p) {
				c.trusted = append(c.trusted, p)
			}
		}
	}
}

// WithStaticTag classifies images matching pattern as tag when they carry
// no embedded classification.
func WithStaticTag(pattern string, tag entities.Tag) Option {
	return func(c *classifierConfig) {
		if doublestar.ValidatePattern(pattern) {
			c.static = append(c.static, staticRule{pattern: pattern, tag: tag})
		}
	}
}

// WithXattr sets the extended attribute name. Empty disables xattr lookup.
func WithXattr(name string) Option {
	return func(c *classifierConfig) {
		c.xattr = name
	}
}

// WithSidecarSuffix sets the sidecar file suffix. Empty disables sidecars.
func WithSidecarSuffix(suffix string) Option {
	return func(c *classifierConfig) {
		c.sidecarSuffix = suffix
	}
}

// WithSymlinkResolution enables or disables symlink resolution before
// matching trusted patterns.
func WithSymlinkResolution(enabled bool) Option {
	return func(c *classifierConfig) {
		c.resolveSymlinks = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *classifierConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Classifier implements ports.ImageClassifier from the filesystem.
// Embedded classification is looked up in order: extended attribute,
// sidecar file, static pattern table. The attribute and the sidecar can be
// written by whoever owns the image, so they are only read for images on
// verified storage; the static table applies everywhere.
type Classifier struct {
	config classifierConfig
}

var _ ports.ImageClassifier = (*Classifier)(nil)

// New creates a classifier.
func New(opts ...Option) *Classifier {
	cfg := defaultClassifierConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Classifier{config: cfg}
}

func (c *Classifier) resolve(image string) string {
	path := filepath.Clean(image)
	if c.config.resolveSymlinks {
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			path = resolved
		}
	}
	return filepath.ToSlash(path)
}

// IsFromTrustedSource reports whether image resides on verified storage.
func (c *Classifier) IsFromTrustedSource(_ context.Context, image string) bool {
	return c.trusted(c.resolve(image))
}

func (c *Classifier) trusted(path string) bool {
	for _, pattern := range c.config.trusted {
		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
	}
	return false
}

// ReadEmbeddedClassification returns the tag carried by image, if any.
func (c *Classifier) ReadEmbeddedClassification(_ context.Context, image string) (entities.Tag, bool, error) {
	path := c.resolve(image)

	if c.trusted(path) {
		tag, ok, err := c.readLabel(image, path)
		if err != nil || ok {
			return tag, ok, err
		}
	}

	for _, rule := range c.config.static {
		if matched, _ := doublestar.Match(rule.pattern, path); matched {
			return rule.tag, true, nil
		}
	}
	return 0, false, nil
}

// readLabel reads the extended attribute, then the sidecar file.
func (c *Classifier) readLabel(image, path string) (entities.Tag, bool, error) {
	if c.config.xattr != "" {
		value, err := readXattr(filepath.FromSlash(path), c.config.xattr)
		switch {
		case err == nil:
			tag, err := ParseTag(value)
			if err != nil {
				return 0, false, fmt.Errorf("%s on %s: %w", c.config.xattr, image, err)
			}
			return tag, true, nil
		case !errors.Is(err, ErrNoXattr):
			c.config.logger.Debug("reading classification attribute failed", "image", image, "error", err)
		}
	}

	if c.config.sidecarSuffix != "" {
		data, err := os.ReadFile(filepath.FromSlash(path) + c.config.sidecarSuffix)
		if err == nil {
			tag, err := ParseTag(string(data))
			if err != nil {
				return 0, false, fmt.Errorf("sidecar of %s: %w", image, err)
			}
			return tag, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return 0, false, fmt.Errorf("sidecar of %s: %w", image, err)
		}
	}
	return 0, false, nil
}

// ParseTag parses a tag written in decimal or 0x-prefixed hexadecimal.
func ParseTag(s string) (entities.Tag, error) {
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid tag %q", s)
	}
	return entities.Tag(v), nil
}
