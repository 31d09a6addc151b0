package policystore_test

import (
	"os"
	"path/filepath"
	"testing"

	domainerrors "github.com/reglet-dev/procguard/domain/errors"
	"github.com/reglet-dev/procguard/infrastructure/policystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "policy.cbor")
	store := policystore.NewFileStore(policystore.WithPath(path), policystore.WithFilePermissions(0o600))
	assert.Equal(t, path, store.Path())

	_, err := store.Load()
	assert.ErrorIs(t, err, domainerrors.ErrPolicyNotFound)

	require.NoError(t, store.Save(sampleProfiles()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	profiles, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, profiles, 4)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file removed")
}

func TestFileStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.cbor")
	require.NoError(t, os.WriteFile(path, []byte("not cbor"), 0o600))

	_, err := policystore.NewFileStore(policystore.WithPath(path)).Load()
	assert.ErrorIs(t, err, domainerrors.ErrPolicyParse)
}
