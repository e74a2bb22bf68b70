package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildManifest(t *testing.T) {
	src := buildTestTree(t)

	manifest, err := BuildManifest(context.Background(), src, 2)
	require.NoError(t, err)

	// Three regular files plus one symlink entry.
	require.Len(t, manifest, 4)
	assert.Equal(t, int64(11), manifest["webui.db"].Size)
	assert.Len(t, manifest["webui.db"].SHA256, 64)
	assert.Equal(t, "symlink:uploads/a.txt", manifest["latest"].SHA256)
}

func TestManifest_DiffDetectsMismatches(t *testing.T) {
	src := buildTestTree(t)
	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, os.MkdirAll(dst, 0o755))
	_, err := CopyTree(context.Background(), src, dst, 2)
	require.NoError(t, err)

	srcManifest, err := BuildManifest(context.Background(), src, 2)
	require.NoError(t, err)

	t.Run("identical trees", func(t *testing.T) {
		dstManifest, err := BuildManifest(context.Background(), dst, 2)
		require.NoError(t, err)
		assert.Empty(t, srcManifest.Diff(dstManifest))
	})

	t.Run("content mismatch", func(t *testing.T) {
		// Same size, different bytes.
		require.NoError(t, os.WriteFile(filepath.Join(dst, "uploads", "a.txt"), []byte("alphX"), 0o644))
		dstManifest, err := BuildManifest(context.Background(), dst, 2)
		require.NoError(t, err)
		diff := srcManifest.Diff(dstManifest)
		require.Len(t, diff, 1)
		assert.Contains(t, diff[0], "content mismatch")
		assert.Contains(t, diff[0], "uploads/a.txt")
	})

	t.Run("missing and unexpected files", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dst, "uploads", "a.txt")))
		require.NoError(t, os.WriteFile(filepath.Join(dst, "stray.tmp"), []byte("x"), 0o644))
		dstManifest, err := BuildManifest(context.Background(), dst, 2)
		require.NoError(t, err)
		diff := srcManifest.Diff(dstManifest)
		require.Len(t, diff, 2)
		assert.Contains(t, diff[0], "missing in destination")
		assert.Contains(t, diff[1], "unexpected in destination")
	})
}
