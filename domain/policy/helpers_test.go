package policy_test

import (
	"context"
	"testing"

	"github.com/reglet-dev/procguard/domain/entities"
	domainerrors "github.com/reglet-dev/procguard/domain/errors"
	"github.com/reglet-dev/procguard/domain/policy"
	"github.com/reglet-dev/procguard/domain/ports"
	"github.com/stretchr/testify/require"
)

const (
	tagBaseline entities.Tag = 0x01
	tagUser     entities.Tag = 0x10
	tagApp      entities.Tag = 0x11
	tagSystem   entities.Tag = 0x20
	tagHandoff  entities.Tag = 0x30

	sysRead   = 0
	sysWrite  = 1
	sysOpen   = 2
	sysIoctl  = 16
	sysExecve = 59
	sysPtrace = 101
)

var (
	sandboxed = entities.Flags{IsolationBoundary: true}
	elevated  = entities.Flags{}
)

func table(entries map[int]entities.FilterCode) *entities.SyscallTable {
	t := entities.NewSyscallTable(128, entities.FilterAllow)
	for nr, code := range entries {
		t.Set(nr, code)
	}
	return t
}

func filters(entries map[int]entities.FilterCode) entities.ProfileOption {
	return entities.WithFilters(&entities.FilterSet{Native: table(entries)})
}

// newTestRegistry registers BASELINE, USER, APP (sandboxed), SYSTEM
// (elevated) and HANDOFF (sandboxed).
func newTestRegistry(t testing.TB, opts ...policy.RegistryOption) *policy.Registry {
	t.Helper()

	base := []policy.RegistryOption{
		policy.WithProfile(
			entities.NewStaticProfile(tagBaseline, "BASELINE", sandboxed, filters(map[int]entities.FilterCode{sysPtrace: entities.FilterDeny})),
			entities.NewStaticProfile(tagUser, "USER", sandboxed, filters(map[int]entities.FilterCode{
				sysIoctl:  entities.FilterInspect,
				sysPtrace: entities.FilterDeny,
			})),
			entities.NewStaticProfile(tagApp, "APP", entities.Flags{IsolationBoundary: true, NoNewPrivileges: true}, filters(nil)),
			entities.NewStaticProfile(tagSystem, "SYSTEM", elevated),
			entities.NewStaticProfile(tagHandoff, "HANDOFF", sandboxed, filters(nil)),
		),
		policy.WithBaseline(tagBaseline),
	}
	r, err := policy.NewRegistry(append(base, opts...)...)
	require.NoError(t, err)
	return r
}

func bind(t testing.TB, r *policy.Registry, pid uint32, tag entities.Tag) *policy.Binding {
	t.Helper()

	p, err := r.Acquire(tag)
	require.NoError(t, err)
	return policy.NewBinding(entities.ProcessIdentity{PID: pid, Epoch: 100}, p, r.Release)
}

// fakeOverrides serves per-executable overrides from memory.
type fakeOverrides struct {
	flags    map[string]entities.Flags
	flagErr  map[string]error
	syscalls map[string]map[int]entities.FilterCode
	merge    map[string]string
}

var (
	_ ports.FlagsParser    = (*fakeOverrides)(nil)
	_ ports.OverrideParser = (*fakeOverrides)(nil)
)

func (f *fakeOverrides) ParseCapabilityFlags(_ context.Context, path string) (entities.Flags, error) {
	if err, ok := f.flagErr[path]; ok {
		return entities.Flags{}, err
	}
	flags, ok := f.flags[path]
	if !ok {
		return entities.Flags{}, &domainerrors.PolicyNotFoundError{Path: path}
	}
	return flags, nil
}

func (f *fakeOverrides) ParseSyscallOverrides(_ context.Context, path string, t *entities.SyscallTable, resolve ports.TableResolver) error {
	entries, ok := f.syscalls[path]
	if !ok {
		return &domainerrors.PolicyNotFoundError{Path: path}
	}
	if name, ok := f.merge[path]; ok {
		other, err := resolve(name)
		if err != nil {
			return &domainerrors.PolicyParseError{Path: path, Line: 1, Err: err}
		}
		t.Merge(other)
	}
	for nr, code := range entries {
		t.Set(nr, code)
	}
	return nil
}
