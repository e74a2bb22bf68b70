package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(src, "uploads", "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "webui.db"), []byte("sqlite data"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(src, "uploads", "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "uploads", "docs", "b.txt"), []byte("beta"), 0o600))
	require.NoError(t, os.Symlink("uploads/a.txt", filepath.Join(src, "latest")))

	old := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(src, "webui.db"), old, old))

	return src
}

func TestCopyTree_CopiesEverything(t *testing.T) {
	src := buildTestTree(t)
	dst := filepath.Join(t.TempDir(), "moved")
	require.NoError(t, os.MkdirAll(dst, 0o755))

	stats, err := CopyTree(context.Background(), src, dst, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.FilesCopied)
	assert.Equal(t, int64(0), stats.FilesSkipped)
	assert.Greater(t, stats.BytesCopied, int64(0))

	srcManifest, err := BuildManifest(context.Background(), src, 2)
	require.NoError(t, err)
	dstManifest, err := BuildManifest(context.Background(), dst, 2)
	require.NoError(t, err)
	assert.Empty(t, srcManifest.Diff(dstManifest))

	// Modes and mtimes are preserved.
	srcInfo, err := os.Stat(filepath.Join(src, "webui.db"))
	require.NoError(t, err)
	dstInfo, err := os.Stat(filepath.Join(dst, "webui.db"))
	require.NoError(t, err)
	assert.Equal(t, srcInfo.Mode().Perm(), dstInfo.Mode().Perm())
	assert.Equal(t, srcInfo.ModTime().Unix(), dstInfo.ModTime().Unix())

	target, err := os.Readlink(filepath.Join(dst, "latest"))
	require.NoError(t, err)
	assert.Equal(t, "uploads/a.txt", target)
}

func TestCopyTree_ResumeSkipsUnchangedFiles(t *testing.T) {
	src := buildTestTree(t)
	dst := filepath.Join(t.TempDir(), "moved")
	require.NoError(t, os.MkdirAll(dst, 0o755))

	_, err := CopyTree(context.Background(), src, dst, 2)
	require.NoError(t, err)

	// Change one source file; a second run copies only that one.
	require.NoError(t, os.WriteFile(filepath.Join(src, "uploads", "a.txt"), []byte("alpha v2"), 0o644))

	stats, err := CopyTree(context.Background(), src, dst, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.FilesCopied)
	assert.Equal(t, int64(2), stats.FilesSkipped)

	data, err := os.ReadFile(filepath.Join(dst, "uploads", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha v2", string(data))
}

func TestCopyTree_CancelledContext(t *testing.T) {
	src := buildTestTree(t)
	dst := filepath.Join(t.TempDir(), "moved")
	require.NoError(t, os.MkdirAll(dst, 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CopyTree(ctx, src, dst, 2)
	assert.Error(t, err)
}

func TestCopyTree_SourceUnreadable(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "moved")
	require.NoError(t, os.MkdirAll(dst, 0o755))

	_, err := CopyTree(context.Background(), filepath.Join(t.TempDir(), "missing"), dst, 2)
	assert.Error(t, err)
}
