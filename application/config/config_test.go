package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/reglet-dev/procguard/application/config"
	domainerrors "github.com/reglet-dev/procguard/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullDocument = `
global_permissive: true
forbid_elevated_exec: true
handoff_tag: 0x20
default_tag: 0x30
baseline_tag: 1
verified_storage:
  - /system/**
  - /vendor/{bin,xbin}/*
static_tags:
  /system/bin/daemon: 0x10
notify_on_transition_denied: false
bundle_path: /var/lib/procguard/policy.cbor
override_suffix: .guard
override_dir: /data/overrides
inspector_module: /etc/procguard/inspect.wasm
log_level: debug
`

func TestParse_Full(t *testing.T) {
	cfg, err := config.Parse([]byte(fullDocument))
	require.NoError(t, err)

	assert.True(t, cfg.GlobalPermissive)
	assert.True(t, cfg.ForbidElevatedExec)
	assert.Equal(t, uint32(0x20), cfg.HandoffTag)
	assert.Equal(t, uint32(0x30), cfg.DefaultTag)
	assert.Equal(t, uint32(1), cfg.BaselineTag)
	assert.Equal(t, []string{"/system/**", "/vendor/{bin,xbin}/*"}, cfg.VerifiedStorage)
	assert.Equal(t, map[string]uint32{"/system/bin/daemon": 0x10}, cfg.StaticTags)
	assert.False(t, cfg.NotifyOnDenial())
	assert.Equal(t, "/var/lib/procguard/policy.cbor", cfg.BundlePath)
	assert.Equal(t, ".guard", cfg.OverrideSuffix)
	assert.Equal(t, "/data/overrides", cfg.OverrideDir)
	assert.Equal(t, "/etc/procguard/inspect.wasm", cfg.InspectorModule)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParse_Defaults(t *testing.T) {
	for _, doc := range []string{"", "log_level: warn\n"} {
		cfg, err := config.Parse([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, config.DefaultBundlePath, cfg.BundlePath)
		assert.Equal(t, config.DefaultOverrideSuffix, cfg.OverrideSuffix)
		assert.True(t, cfg.NotifyOnDenial())
		assert.False(t, cfg.GlobalPermissive)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "not yaml", doc: "a: [b"},
		{name: "unknown field", doc: "permissive: true\n"},
		{name: "wrong type", doc: "global_permissive: yes please\n"},
		{name: "negative tag", doc: "default_tag: -1\n"},
		{name: "bad log level", doc: "log_level: verbose\n"},
		{name: "bad glob", doc: "verified_storage: ['/system/[a']\n"},
		{name: "bad static glob", doc: "static_tags: {'/bin/[': 1}\n"},
		{name: "empty bundle path", doc: "bundle_path: ''\n"},
		{name: "suffix with slash", doc: "override_suffix: a/b\n"},
		{name: "not a mapping", doc: "- a\n- b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.doc))
			require.Error(t, err)
			var cfgErr *domainerrors.ConfigError
			assert.True(t, errors.As(err, &cfgErr), "got %T: %v", err, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_tag: 7\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), cfg.DefaultTag)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefault_Validates(t *testing.T) {
	assert.NoError(t, config.Default().Validate())
}

func TestValidator_Glob(t *testing.T) {
	v := config.Validator()
	assert.Same(t, v, config.Validator(), "one shared instance")

	assert.NoError(t, v.Var("/system/**", "glob"))
	assert.Error(t, v.Var("/system/[a", "glob"))
}
