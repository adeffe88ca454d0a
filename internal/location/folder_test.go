package location

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFolder(t *testing.T) (*Folder, string) {
	t.Helper()
	root := t.TempDir()
	f, err := NewFolder(root)
	require.NoError(t, err)
	return f, root
}

func TestFolder_WriteReadStat(t *testing.T) {
	f, _ := newTestFolder(t)
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, "docs/deep/a.txt", []byte("hello")))

	content, err := f.Read(ctx, "docs/deep/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	rec, err := f.Stat(ctx, "docs/deep/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "docs/deep/a.txt", rec.Path)
	assert.Equal(t, KindFile, rec.Kind)
	assert.Equal(t, int64(5), rec.Size)
	assert.Equal(t, DigestBytes([]byte("hello")), rec.Digest)
	assert.False(t, rec.ModTime.IsZero())
}

func TestFolder_StatAbsentAndDir(t *testing.T) {
	f, root := newTestFolder(t)
	ctx := context.Background()

	rec, err := f.Stat(ctx, "missing.txt")
	require.NoError(t, err, "absent is a state, not an error")
	assert.Equal(t, KindAbsent, rec.Kind)
	assert.False(t, rec.Present())

	require.NoError(t, os.MkdirAll(filepath.Join(root, "subdir"), 0o755))
	rec, err = f.Stat(ctx, "subdir")
	require.NoError(t, err)
	assert.Equal(t, KindDir, rec.Kind)
	assert.True(t, rec.Present())
}

func TestFolder_ListSortedWithDigests(t *testing.T) {
	f, root := newTestFolder(t)
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, "b.txt", []byte("bee")))
	require.NoError(t, f.Write(ctx, "a/nested.txt", []byte("nested")))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty-dir"), 0o755))

	records, err := f.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2, "directories are implied, not listed")

	assert.Equal(t, "a/nested.txt", records[0].Path)
	assert.Equal(t, "b.txt", records[1].Path)
	assert.Equal(t, DigestBytes([]byte("nested")), records[0].Digest)
	assert.Equal(t, DigestBytes([]byte("bee")), records[1].Digest)
}

func TestFolder_ListSkipsWriteArtifacts(t *testing.T) {
	f, root := newTestFolder(t)
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, "real.txt", []byte("x")))
	require.NoError(t, os.WriteFile(filepath.Join(root, tmpPrefix+"abc123"), []byte("partial"), 0o644))

	records, err := f.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "real.txt", records[0].Path)
}

func TestFolder_ReadMissing(t *testing.T) {
	f, _ := newTestFolder(t)

	_, err := f.Read(context.Background(), "missing.txt")
	assert.True(t, errors.Is(err, ErrNotFound))

	var opErr *OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "read", opErr.Op)
	assert.Equal(t, "missing.txt", opErr.Path)
}

func TestFolder_DeleteIdempotentAndPrunes(t *testing.T) {
	f, root := newTestFolder(t)
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, "a/b/c/file.txt", []byte("x")))
	require.NoError(t, f.Delete(ctx, "a/b/c/file.txt"))

	_, err := os.Stat(filepath.Join(root, "a"))
	assert.True(t, os.IsNotExist(err), "emptied parents are pruned")

	// deleting again is a no-op
	require.NoError(t, f.Delete(ctx, "a/b/c/file.txt"))
}

func TestFolder_DeleteKeepsOccupiedParents(t *testing.T) {
	f, root := newTestFolder(t)
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, "a/keep.txt", []byte("keep")))
	require.NoError(t, f.Write(ctx, "a/drop.txt", []byte("drop")))
	require.NoError(t, f.Delete(ctx, "a/drop.txt"))

	_, err := os.Stat(filepath.Join(root, "a", "keep.txt"))
	assert.NoError(t, err)
}

func TestFolder_WriteOverwritesAtomically(t *testing.T) {
	f, root := newTestFolder(t)
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, "a.txt", []byte("v1")))
	require.NoError(t, f.Write(ctx, "a.txt", []byte("v2 now longer")))

	content, err := f.Read(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v2 now longer", string(content))

	// no staging files left behind
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), tmpPrefix)
	}
}

func TestFolder_RejectsEscapingPaths(t *testing.T) {
	f, _ := newTestFolder(t)
	ctx := context.Background()

	assert.Error(t, f.Write(ctx, "../outside.txt", []byte("x")))
	_, err := f.Read(ctx, "../../etc/passwd")
	assert.Error(t, err)
	_, err = f.Stat(ctx, "..")
	assert.Error(t, err)
}

func TestFolder_CanceledContext(t *testing.T) {
	f, _ := newTestFolder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.List(ctx)
	assert.Error(t, err)

	err = f.Write(ctx, "a.txt", []byte("x"))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFolder_DigestCacheRefreshes(t *testing.T) {
	f, root := newTestFolder(t)
	ctx := context.Background()

	require.NoError(t, f.Write(ctx, "a.txt", []byte("v1")))
	rec1, err := f.Stat(ctx, "a.txt")
	require.NoError(t, err)

	// rewrite behind the location's back with different size and mtime
	abs := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(abs, []byte("v2 different"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(abs, future, future))

	rec2, err := f.Stat(ctx, "a.txt")
	require.NoError(t, err)
	assert.NotEqual(t, rec1.Digest, rec2.Digest)
	assert.Equal(t, DigestBytes([]byte("v2 different")), rec2.Digest)
}
