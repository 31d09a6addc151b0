package classifier_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/reglet-dev/procguard/domain/entities"
	"github.com/reglet-dev/procguard/infrastructure/classifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifier_IsFromTrustedSource(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	root = filepath.ToSlash(root)
	system := filepath.Join(root, "system", "bin")
	require.NoError(t, os.MkdirAll(system, 0o755))
	daemon := filepath.Join(system, "daemon")
	require.NoError(t, os.WriteFile(daemon, nil, 0o755))

	outside := filepath.Join(root, "data", "evil")
	require.NoError(t, os.MkdirAll(filepath.Dir(outside), 0o755))
	require.NoError(t, os.WriteFile(outside, nil, 0o755))
	link := filepath.Join(system, "link")
	require.NoError(t, os.Symlink(outside, link))

	c := classifier.New(classifier.WithTrustedPatterns(root+"/system/**", "[invalid"))
	ctx := context.Background()

	assert.True(t, c.IsFromTrustedSource(ctx, daemon))
	assert.False(t, c.IsFromTrustedSource(ctx, outside))
	assert.False(t, c.IsFromTrustedSource(ctx, link), "symlinks are resolved before matching")

	lenient := classifier.New(classifier.WithTrustedPatterns(root+"/system/**"), classifier.WithSymlinkResolution(false))
	assert.True(t, lenient.IsFromTrustedSource(ctx, link))
}

func TestClassifier_ReadEmbeddedClassification(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	dir := filepath.Join(root, "system")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	tagged := filepath.Join(dir, "tagged")
	plain := filepath.Join(dir, "plain")
	bad := filepath.Join(dir, "bad")
	for _, p := range []string{tagged, plain, bad} {
		require.NoError(t, os.WriteFile(p, nil, 0o755))
	}
	require.NoError(t, os.WriteFile(tagged+".tag", []byte("0x30\n"), 0o644))
	require.NoError(t, os.WriteFile(bad+".tag", []byte("not-a-tag"), 0o644))

	c := classifier.New(
		classifier.WithXattr(""),
		classifier.WithTrustedPatterns(filepath.ToSlash(dir)+"/**"),
		classifier.WithStaticTag(filepath.ToSlash(dir)+"/pl*", 0x10),
	)
	ctx := context.Background()

	tag, ok, err := c.ReadEmbeddedClassification(ctx, tagged)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, entities.Tag(0x30), tag)

	tag, ok, err = c.ReadEmbeddedClassification(ctx, plain)
	require.NoError(t, err)
	assert.True(t, ok, "static table")
	assert.Equal(t, entities.Tag(0x10), tag)

	_, _, err = c.ReadEmbeddedClassification(ctx, bad)
	assert.Error(t, err)

	_, ok, err = c.ReadEmbeddedClassification(ctx, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClassifier_UntrustedLabelsIgnored(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	writable := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(writable, 0o755))
	tool := filepath.Join(writable, "tool")
	require.NoError(t, os.WriteFile(tool, nil, 0o755))
	require.NoError(t, os.WriteFile(tool+".tag", []byte("0x20"), 0o644))

	ctx := context.Background()
	c := classifier.New(classifier.WithTrustedPatterns(filepath.ToSlash(root)+"/system/**"))
	require.False(t, c.IsFromTrustedSource(ctx, tool))

	_, ok, err := c.ReadEmbeddedClassification(ctx, tool)
	require.NoError(t, err)
	assert.False(t, ok, "a sidecar beside an untrusted image is not a classification")

	static := classifier.New(
		classifier.WithTrustedPatterns(filepath.ToSlash(root)+"/system/**"),
		classifier.WithStaticTag(filepath.ToSlash(writable)+"/*", 0x10),
	)
	tag, ok, err := static.ReadEmbeddedClassification(ctx, tool)
	require.NoError(t, err)
	assert.True(t, ok, "configured static tags still apply")
	assert.Equal(t, entities.Tag(0x10), tag)
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		in   string
		want entities.Tag
		ok   bool
	}{
		{"16", 16, true},
		{"0x10\n", 16, true},
		{"0x10\x00", 16, true},
		{"0x100000000", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := classifier.ParseTag(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
