// Package compiler turns a directory of profile sources into the dense
// runtime tables loaded by the profile registry.
//
// A profile NAME is declared by NAME.yaml (tag and flags). Its syscall
// policy for the native convention lives in NAME.policy and for the
// secondary convention in NAME.secondary.policy. A profile with neither
// policy file is compiled without filter tables and allows every syscall.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/reglet-dev/procguard/domain/entities"
	domainerrors "github.com/reglet-dev/procguard/domain/errors"
	"github.com/reglet-dev/procguard/domain/ports"
	"github.com/reglet-dev/procguard/internal/tablehash"
)

const (
	attributeExt = ".yaml"
	nativeExt    = ".policy"
	secondaryExt = ".secondary.policy"
)

// ErrMergeCycle is returned when ":NAME" merges form a cycle.
var ErrMergeCycle = errors.New("merge cycle")

// Option configures a Compiler.
type Option func(*compilerConfig)

type compilerConfig struct {
	logger    *slog.Logger
	tableSize int
}

func defaultCompilerConfig() compilerConfig {
	return compilerConfig{
		logger:    slog.Default(),
		tableSize: entities.DefaultTableSize,
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *compilerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTableSize sets the number of entries of every compiled table.
func WithTableSize(n int) Option {
	return func(c *compilerConfig) {
		if n > 0 {
			c.tableSize = n
		}
	}
}

// Compiler compiles profile source directories.
type Compiler struct {
	attributes ports.AttributeParser
	native     ports.OverrideParser
	secondary  ports.OverrideParser
	config     compilerConfig
}

// New creates a compiler reading attribute files with attributes and policy
// files with the per-convention parsers.
func New(attributes ports.AttributeParser, native, secondary ports.OverrideParser, opts ...Option) *Compiler {
	cfg := defaultCompilerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Compiler{attributes: attributes, native: native, secondary: secondary, config: cfg}
}

// source is a profile being compiled.
type source struct {
	name   string
	attrs  ports.ProfileAttributes
	tables [2]*tableState
}

type tableState struct {
	table    *entities.SyscallTable
	present  bool
	visiting bool
	done     bool
}

// compilation holds the state of one CompileDir call.
type compilation struct {
	c       *Compiler
	ctx     context.Context
	dir     string
	sources map[string]*source
	interns *tablehash.Interner
}

// CompileDir compiles every profile declared in dir. The result is sorted
// by tag, and byte-identical tables are shared between profiles.
func (c *Compiler) CompileDir(ctx context.Context, dir string) ([]ports.CompiledProfile, error) {
	names, err := profileNames(dir)
	if err != nil {
		return nil, err
	}

	comp := &compilation{c: c, ctx: ctx, dir: dir, sources: make(map[string]*source, len(names)), interns: tablehash.NewInterner()}
	byTag := make(map[entities.Tag]string, len(names))
	var errs []error
	for _, name := range names {
		path := filepath.Join(dir, name+attributeExt)
		attrs, err := c.attributes.ParseProfileAttributes(ctx, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !attrs.HasTag {
			errs = append(errs, &domainerrors.PolicyParseError{Path: path, Err: errors.New("missing tag")})
			continue
		}
		if other, dup := byTag[attrs.Tag]; dup {
			errs = append(errs, &domainerrors.PolicyParseError{Path: path, Err: fmt.Errorf("tag %s already used by %s", attrs.Tag, other)})
			continue
		}
		if err := attrs.Flags.Validate(); err != nil {
			errs = append(errs, &domainerrors.PolicyParseError{Path: path, Err: err})
			continue
		}
		byTag[attrs.Tag] = name
		comp.sources[name] = &source{name: name, attrs: attrs}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	out := make([]ports.CompiledProfile, 0, len(names))
	for _, name := range names {
		src := comp.sources[name]
		native, err := comp.table(name, entities.ConventionNative)
		if err != nil {
			return nil, err
		}
		secondary, err := comp.table(name, entities.ConventionSecondary)
		if err != nil {
			return nil, err
		}

		var filters *entities.FilterSet
		nativePresent := src.tables[entities.ConventionNative].present
		secondaryPresent := src.tables[entities.ConventionSecondary].present
		if nativePresent || secondaryPresent {
			filters = &entities.FilterSet{Native: native}
			if secondaryPresent {
				filters.Secondary = secondary
			}
		}
		out = append(out, ports.CompiledProfile{
			Name:    name,
			Tag:     src.attrs.Tag,
			Flags:   src.attrs.Flags,
			Filters: filters,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	c.config.logger.Info("compiled profiles", "dir", dir, "profiles", len(out), "tables", comp.interns.Len())
	return out, nil
}

// table compiles the conv table of profile name, compiling merged profiles
// first. A convention without a policy file yields an all-Allow table
// marked not present.
func (comp *compilation) table(name string, conv entities.Convention) (*entities.SyscallTable, error) {
	src, ok := comp.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	st := src.tables[conv]
	if st == nil {
		st = &tableState{}
		src.tables[conv] = st
	}
	if st.done {
		return st.table, nil
	}
	if st.visiting {
		return nil, fmt.Errorf("%w through profile %q", ErrMergeCycle, name)
	}
	st.visiting = true
	defer func() { st.visiting = false }()

	parser, ext := comp.c.native, nativeExt
	if conv == entities.ConventionSecondary {
		parser, ext = comp.c.secondary, secondaryExt
	}

	table := entities.NewSyscallTable(comp.c.config.tableSize, entities.FilterAllow)
	resolve := func(other string) (*entities.SyscallTable, error) {
		return comp.table(other, conv)
	}
	path := filepath.Join(comp.dir, name+ext)
	err := parser.ParseSyscallOverrides(comp.ctx, path, table, resolve)
	switch {
	case err == nil:
		st.present = true
	case errors.Is(err, domainerrors.ErrPolicyNotFound) && !isParseError(err):
	default:
		return nil, err
	}

	st.table = comp.interns.Intern(table)
	st.done = true
	return st.table, nil
}

func isParseError(err error) bool {
	var perr *domainerrors.PolicyParseError
	return errors.As(err, &perr)
}

// profileNames lists the profiles declared in dir, sorted.
func profileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading profile directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), attributeExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), attributeExt))
	}
	sort.Strings(names)
	return names, nil
}
