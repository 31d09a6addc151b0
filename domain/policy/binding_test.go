package policy_test

import (
	"testing"

	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/domain/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinding_ForkAndExit(t *testing.T) {
	r := newTestRegistry(t)
	parent := bind(t, r, 7, tagUser)
	user := parent.Profile()
	assert.EqualValues(t, 1, user.Refs())
	assert.Equal(t, policy.StateUnprivileged, parent.State())

	child, err := parent.Fork(entities.ProcessIdentity{PID: 8, Epoch: 101})
	require.NoError(t, err)
	assert.Same(t, user, child.Profile())
	assert.EqualValues(t, 2, user.Refs())
	assert.Equal(t, uint32(8), child.Identity().PID)

	child.Exit()
	child.Exit()
	assert.EqualValues(t, 1, user.Refs(), "exit releases exactly once")
	assert.True(t, child.Exited())

	parent.Exit()
	assert.Zero(t, user.Refs())

	_, err = parent.Fork(entities.ProcessIdentity{PID: 9})
	assert.ErrorIs(t, err, policy.ErrBindingExited)
}

func TestBinding_ElevatedState(t *testing.T) {
	r := newTestRegistry(t)
	b := bind(t, r, 1, tagSystem)
	assert.True(t, b.Elevated())
	assert.Equal(t, policy.StateElevated, b.State())
	assert.Equal(t, "elevated", b.State().String())
}

func TestBinding_NoNewPrivilegesInherited(t *testing.T) {
	r := newTestRegistry(t)
	b := bind(t, r, 1, tagApp)
	assert.True(t, b.NoNewPrivileges())

	child, err := b.Fork(entities.ProcessIdentity{PID: 2})
	require.NoError(t, err)
	assert.True(t, child.NoNewPrivileges())
}

func TestBinding_DynamicProfileFreedOnExit(t *testing.T) {
	freed := 0
	p := entities.NewDynamicProfile(3, "EPHEMERAL", sandboxed, entities.WithOnFree(func(*entities.Profile) { freed++ }))
	b := policy.NewBinding(entities.ProcessIdentity{PID: 1}, p, nil)

	child, err := b.Fork(entities.ProcessIdentity{PID: 2})
	require.NoError(t, err)

	b.Exit()
	assert.Zero(t, freed, "child still holds a reference")
	child.Exit()
	assert.Equal(t, 1, freed)
}
