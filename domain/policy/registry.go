package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/reglet-dev/procguard/domain/entities"
	domainerrors "github.com/reglet-dev/procguard/domain/errors"
	"github.com/reglet-dev/procguard/domain/ports"
)

// Registry is an immutable lookup from tag to Profile. It is built once by
// NewRegistry and needs no locking afterwards; only the profiles' reference
// counts change.
type Registry struct {
	byTag    map[entities.Tag]*entities.Profile
	byName   map[string]*entities.Profile
	baseline *entities.Profile
	flags    ports.FlagsParser
	syscalls ports.OverrideParser
	auditor  ports.Auditor
	logger   *slog.Logger
	tags     []entities.Tag // sorted for consistent iteration
}

// registryBuilder accumulates configuration during registry construction.
type registryBuilder struct {
	byTag       map[entities.Tag]*entities.Profile
	byName      map[string]*entities.Profile
	flags       ports.FlagsParser
	syscalls    ports.OverrideParser
	auditor     ports.Auditor
	logger      *slog.Logger
	errors      []error
	baseline    entities.Tag
	hasBaseline bool
}

// RegistryOption is a functional option for configuring a Registry.
type RegistryOption func(*registryBuilder)

// NewRegistry creates an immutable Registry with the given options.
// Returns an error if a tag or name is registered twice, if a profile is
// not static, or if the baseline tag names no registered profile.
//
// Example usage:
//
//	registry, err := NewRegistry(
//	    WithProfile(entities.NewStaticProfile(1, "USER", userFlags)),
//	    WithCompiled(bundle...),
//	    WithBaseline(1),
//	)
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	b := &registryBuilder{
		byTag:  make(map[entities.Tag]*entities.Profile),
		byName: make(map[string]*entities.Profile),
	}

	for _, opt := range opts {
		opt(b)
	}

	if len(b.errors) > 0 {
		return nil, errors.Join(b.errors...)
	}

	r := &Registry{
		byTag:    b.byTag,
		byName:   b.byName,
		flags:    b.flags,
		syscalls: b.syscalls,
		auditor:  b.auditor,
		logger:   b.logger,
	}
	if r.auditor == nil {
		r.auditor = NopAuditor{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	if b.hasBaseline {
		p, ok := b.byTag[b.baseline]
		if !ok {
			return nil, fmt.Errorf("baseline: %w", &domainerrors.PolicyNotFoundError{Tag: b.baseline})
		}
		r.baseline = p
	}

	r.tags = make([]entities.Tag, 0, len(b.byTag))
	for tag := range b.byTag {
		r.tags = append(r.tags, tag)
	}
	sort.Slice(r.tags, func(i, j int) bool { return r.tags[i] < r.tags[j] })

	return r, nil
}

func (b *registryBuilder) addProfile(p *entities.Profile) error {
	if p == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if !p.Static() {
		return fmt.Errorf("profile %s is not static", p)
	}
	if p.Name() == "" {
		return fmt.Errorf("profile %s has no name", p.Tag())
	}
	if err := p.Flags().Validate(); err != nil {
		return fmt.Errorf("profile %s: %w", p, err)
	}
	if _, exists := b.byTag[p.Tag()]; exists {
		return fmt.Errorf("duplicate profile tag: %s", p.Tag())
	}
	if _, exists := b.byName[p.Name()]; exists {
		return fmt.Errorf("duplicate profile name: %q", p.Name())
	}
	b.byTag[p.Tag()] = p
	b.byName[p.Name()] = p
	return nil
}

// WithProfile registers static profiles.
func WithProfile(profiles ...*entities.Profile) RegistryOption {
	return func(b *registryBuilder) {
		for _, p := range profiles {
			if err := b.addProfile(p); err != nil {
				b.errors = append(b.errors, err)
			}
		}
	}
}

// WithCompiled registers the profiles of a compiled policy bundle.
func WithCompiled(compiled ...ports.CompiledProfile) RegistryOption {
	return func(b *registryBuilder) {
		for _, c := range compiled {
			p := entities.NewStaticProfile(c.Tag, c.Name, c.Flags, entities.WithFilters(c.Filters))
			if err := b.addProfile(p); err != nil {
				b.errors = append(b.errors, err)
			}
		}
	}
}

// WithBaseline designates the profile used when a policy cannot be found or parsed.
func WithBaseline(tag entities.Tag) RegistryOption {
	return func(b *registryBuilder) {
		b.baseline = tag
		b.hasBaseline = true
	}
}

// WithOverrideParsers enables per-executable overrides.
func WithOverrideParsers(flags ports.FlagsParser, syscalls ports.OverrideParser) RegistryOption {
	return func(b *registryBuilder) {
		b.flags = flags
		b.syscalls = syscalls
	}
}

// WithRegistryAuditor sets the auditor for override parse errors.
func WithRegistryAuditor(a ports.Auditor) RegistryOption {
	return func(b *registryBuilder) {
		b.auditor = a
	}
}

// WithRegistryLogger sets the structured logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(b *registryBuilder) {
		b.logger = l
	}
}

// Lookup returns the profile registered under tag without taking a reference.
func (r *Registry) Lookup(tag entities.Tag) (*entities.Profile, error) {
	p, ok := r.byTag[tag]
	if !ok {
		return nil, &domainerrors.PolicyNotFoundError{Tag: tag}
	}
	return p, nil
}

// LookupByName returns the profile registered under name without taking a reference.
func (r *Registry) LookupByName(name string) (*entities.Profile, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Acquire returns the profile registered under tag with one reference taken.
// Every successful Acquire must be matched by exactly one Release.
func (r *Registry) Acquire(tag entities.Tag) (*entities.Profile, error) {
	p, err := r.Lookup(tag)
	if err != nil {
		return nil, err
	}
	return p.Acquire(), nil
}

// AcquireOrBaseline acquires tag, falling back to the baseline profile when
// tag is not registered. The returned bool reports whether the fallback was used.
func (r *Registry) AcquireOrBaseline(tag entities.Tag) (*entities.Profile, bool, error) {
	p, err := r.Acquire(tag)
	if err == nil {
		return p, false, nil
	}
	if r.baseline == nil {
		return nil, false, err
	}
	r.logger.Warn("profile not found, using baseline", "tag", tag.String(), "baseline", r.baseline.Tag().String())
	return r.baseline.Acquire(), true, nil
}

// Release drops a reference taken by Acquire, LoadOverride or Fork.
func (r *Registry) Release(p *entities.Profile) {
	if p == nil {
		return
	}
	if p.Release() {
		r.logger.Debug("profile freed", "profile", p.String())
	}
}

// Baseline returns the baseline profile, or nil when none is configured.
func (r *Registry) Baseline() *entities.Profile {
	return r.baseline
}

// Tags returns a sorted list of all registered tags.
func (r *Registry) Tags() []entities.Tag {
	result := make([]entities.Tag, len(r.tags))
	copy(result, r.tags)
	return result
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int {
	return len(r.tags)
}

// OverridesEnabled reports whether per-executable overrides are configured.
func (r *Registry) OverridesEnabled() bool {
	return r.flags != nil && r.syscalls != nil
}

// LoadOverride builds an ephemeral profile from the per-executable override
// at path, layered on base (or the baseline when base is nil). An override
// only narrows base: its flags go through Flags.Restrict and its syscall
// entries through SyscallTable.Tighten. The profile is not inserted into the
// registry; the caller owns its single reference and releases it through
// Release.
//
// It returns an error matching ErrPolicyNotFound when no override exists.
// A malformed override is audited and the baseline profile is returned
// acquired in its place.
func (r *Registry) LoadOverride(ctx context.Context, path string, base *entities.Profile) (*entities.Profile, error) {
	if !r.OverridesEnabled() {
		return nil, &domainerrors.PolicyNotFoundError{Path: path}
	}
	if base == nil {
		base = r.baseline
	}

	flags, err := r.flags.ParseCapabilityFlags(ctx, path)
	if err == nil {
		err = flags.Validate()
	}
	if errors.Is(err, domainerrors.ErrPolicyNotFound) {
		return nil, err
	}
	if err != nil {
		return r.overrideFallback(ctx, path, base, err)
	}

	if base != nil {
		flags = base.Flags().Restrict(flags)
	}

	var filters *entities.FilterSet
	if base != nil && base.Filters() != nil && base.Filters().Native != nil {
		filters = base.Filters().Clone()
	} else {
		filters = &entities.FilterSet{Native: entities.NewSyscallTable(entities.DefaultTableSize, entities.FilterAllow)}
		if base != nil && base.Filters() != nil {
			filters.Secondary = base.Filters().Secondary.Clone()
		}
	}
	resolve := func(name string) (*entities.SyscallTable, error) {
		p, ok := r.byName[name]
		if !ok || p.Filters() == nil {
			return nil, fmt.Errorf("unknown profile %q", name)
		}
		return p.Filters().Native, nil
	}
	requested := filters.Native.Clone()
	if err := r.syscalls.ParseSyscallOverrides(ctx, path, requested, resolve); err != nil {
		if errors.Is(err, domainerrors.ErrPolicyNotFound) {
			// Flags without a syscall file keep the base tables.
			r.logger.Debug("override has no syscall file", "path", path)
		} else {
			return r.overrideFallback(ctx, path, base, err)
		}
	} else {
		filters.Native.Tighten(requested)
	}

	tag := entities.Tag(0)
	name := "override"
	if base != nil {
		tag = base.Tag()
		name = base.Name() + "+override"
	}
	p := entities.NewDynamicProfile(tag, name, flags,
		entities.WithFilters(filters),
		entities.WithOnFree(func(p *entities.Profile) {
			r.logger.Debug("override profile freed", "path", path, "profile", p.String())
		}),
	)
	r.logger.Info("loaded per-executable override", "path", path, "profile", p.String())
	return p, nil
}

func (r *Registry) overrideFallback(ctx context.Context, path string, base *entities.Profile, cause error) (*entities.Profile, error) {
	rec := entities.AuditRecord{
		Time:   time.Now(),
		Kind:   entities.AuditOverrideParseError,
		Image:  path,
		Reason: cause.Error(),
	}
	if base != nil {
		rec.Tag = base.Tag()
	}
	r.auditor.Audit(ctx, rec)

	if r.baseline == nil {
		return nil, &domainerrors.PolicyParseError{Path: path, Err: cause}
	}
	r.logger.Warn("override rejected, using baseline", "path", path, "error", cause)
	return r.baseline.Acquire(), nil
}
