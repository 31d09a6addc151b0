package parser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/reglet-dev/procguard/domain/entities"
	domainerrors "github.com/reglet-dev/procguard/domain/errors"
	"github.com/reglet-dev/procguard/domain/ports"
)

// DSLOption configures a DSLParser.
type DSLOption func(*dslConfig)

type dslConfig struct {
	defaultCode entities.FilterCode
	convention  entities.Convention
}

func defaultDSLConfig() dslConfig {
	return dslConfig{
		defaultCode: entities.FilterDeny,
		convention:  entities.ConventionNative,
	}
}

// WithDefaultCode sets the code given to bare syscall names.
// Only Inspect and Deny are meaningful; Allow is ignored.
func WithDefaultCode(code entities.FilterCode) DSLOption {
	return func(c *dslConfig) {
		if code == entities.FilterInspect || code == entities.FilterDeny {
			c.defaultCode = code
		}
	}
}

// WithConvention selects the syscall name table used to resolve names.
func WithConvention(conv entities.Convention) DSLOption {
	return func(c *dslConfig) {
		c.convention = conv
	}
}

// DSLParser reads the syscall policy language:
//
//	# comment
//	ptrace          bare name: the default non-Allow code
//	+ioctl          Inspect
//	:USER           merge the compiled table of profile USER
//
// Entries overwrite what earlier lines set; merges combine with the
// MergeCode rule at the point they appear.
type DSLParser struct {
	config dslConfig
}

var _ ports.OverrideParser = (*DSLParser)(nil)

// NewDSLParser creates a parser.
func NewDSLParser(opts ...DSLOption) *DSLParser {
	cfg := defaultDSLConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &DSLParser{config: cfg}
}

// Convention returns the calling convention names are resolved in.
func (p *DSLParser) Convention() entities.Convention {
	return p.config.convention
}

// ParseSyscallOverrides applies the policy file at path to table.
// A missing file returns an error matching ErrPolicyNotFound.
func (p *DSLParser) ParseSyscallOverrides(_ context.Context, path string, table *entities.SyscallTable, resolve ports.TableResolver) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &domainerrors.PolicyNotFoundError{Path: path}
		}
		return &domainerrors.PolicyParseError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	return p.Parse(f, path, table, resolve)
}

// Parse applies the policy read from r to table. path is only used in
// error messages. resolve may be nil when merges are not supported.
func (p *DSLParser) Parse(r io.Reader, path string, table *entities.SyscallTable, resolve ports.TableResolver) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = strings.TrimSpace(text[:i])
		}
		if text == "" {
			continue
		}
		if err := p.apply(text, table, resolve); err != nil {
			return &domainerrors.PolicyParseError{Path: path, Line: line, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return &domainerrors.PolicyParseError{Path: path, Line: line, Err: err}
	}
	return nil
}

func (p *DSLParser) apply(text string, table *entities.SyscallTable, resolve ports.TableResolver) error {
	if strings.ContainsAny(text, " \t") {
		return fmt.Errorf("unexpected whitespace in %q", text)
	}

	switch text[0] {
	case ':':
		name := text[1:]
		if name == "" {
			return errors.New("missing profile name after ':'")
		}
		if resolve == nil {
			return fmt.Errorf("cannot merge %q here", name)
		}
		other, err := resolve(name)
		if err != nil {
			return err
		}
		table.Merge(other)
		return nil
	case '+':
		return p.set(table, text[1:], entities.FilterInspect)
	default:
		return p.set(table, text, p.config.defaultCode)
	}
}

func (p *DSLParser) set(table *entities.SyscallTable, name string, code entities.FilterCode) error {
	nr, ok := SyscallNumber(p.config.convention, name)
	if !ok {
		return fmt.Errorf("unknown syscall %q", name)
	}
	if nr >= table.Len() {
		return fmt.Errorf("syscall %q (%d) beyond table of %d entries", name, nr, table.Len())
	}
	table.Set(nr, code)
	return nil
}
