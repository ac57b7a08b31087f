package sqlstore

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
	"github.com/hupe1980/sigindex/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open("file:" + filepath.Join(t.TempDir(), "sigindex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func TestRepository(t *testing.T) {
	testutil.RunRepositoryTests(t, func(t *testing.T) checkpoint.Repository {
		return NewRepository(openTestDB(t))
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(context.Background(), db))
}

func TestBlobStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewBlobStore(openTestDB(t))

	h, err := store.Create(ctx, strings.NewReader("serialized index"))
	require.NoError(t, err)

	blob, err := store.Open(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, int64(16), blob.Size())
	data, err := io.ReadAll(blob)
	require.NoError(t, err)
	require.NoError(t, blob.Close())
	assert.Equal(t, "serialized index", string(data))

	ok, err := store.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, h, infos[0].Handle)
	assert.Equal(t, int64(16), infos[0].Size)
	assert.False(t, infos[0].Created.IsZero())

	require.NoError(t, store.Delete(ctx, h))
	require.NoError(t, store.Delete(ctx, h))

	ok, err = store.Exists(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Open(ctx, h)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestBlobStore_HandlesAreNotReused(t *testing.T) {
	ctx := context.Background()
	store := NewBlobStore(openTestDB(t))

	h1, err := store.Create(ctx, strings.NewReader("a"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, h1))

	h2, err := store.Create(ctx, strings.NewReader("b"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestBlobStore_InvalidHandle(t *testing.T) {
	store := NewBlobStore(openTestDB(t))

	_, err := store.Open(context.Background(), "not-a-number")
	assert.ErrorIs(t, err, blobstore.ErrInvalidHandle)
	_, err = store.Exists(context.Background(), "")
	assert.ErrorIs(t, err, blobstore.ErrInvalidHandle)
}
