package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewLocalStore(tmpDir)
	require.NoError(t, err)

	ctx := context.Background()
	data := "hello world, this is a test blob for sigindex"

	// 1. Create
	h, err := store.Create(ctx, strings.NewReader(data))
	require.NoError(t, err)
	require.False(t, h.IsZero())

	_, err = os.Stat(filepath.Join(tmpDir, string(h)+blobExt))
	require.NoError(t, err)

	// 2. Open
	blob, err := store.Open(ctx, h)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())
	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	require.NoError(t, blob.Close())
	require.Equal(t, data, string(got))

	// 3. Exists / List
	ok, err := store.Exists(ctx, h)
	require.NoError(t, err)
	require.True(t, ok)

	h2, err := store.Create(ctx, strings.NewReader("second"))
	require.NoError(t, err)
	require.NotEqual(t, h, h2)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		assert.False(t, info.Created.IsZero())
	}

	// 4. Delete
	require.NoError(t, store.Delete(ctx, h))
	require.NoError(t, store.Delete(ctx, h), "deleting twice is not an error")

	ok, err = store.Exists(ctx, h)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.Open(ctx, h)
	require.ErrorIs(t, err, ErrNotFound)

	infos, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, h2, infos[0].Handle)
}

func TestLocalStore_IgnoresInFlightUploads(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewLocalStore(tmpDir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".upload-123"), []byte("partial"), 0o644))

	infos, err := store.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, infos)
}

func TestLocalStore_RejectsInvalidHandles(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, h := range []Handle{"", "../escape", "a/b", ".upload-1"} {
		_, err := store.Open(ctx, h)
		assert.ErrorIs(t, err, ErrInvalidHandle, "handle %q", h)
		_, err = store.Exists(ctx, h)
		assert.ErrorIs(t, err, ErrInvalidHandle, "handle %q", h)
	}
}

func TestLocalStore_CreateCanceled(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewLocalStore(tmpDir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Create(ctx, strings.NewReader("data"))
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Empty(t, entries, "temp file must be removed")
}

func TestMemoryStore_HandlesAreNotReused(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	h1, err := store.Create(ctx, strings.NewReader("a"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, h1))

	h2, err := store.Create(ctx, strings.NewReader("b"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 1, store.Len())
}
