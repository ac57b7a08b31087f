package postgres

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
	"github.com/hupe1980/sigindex/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPool connects to SIGINDEX_POSTGRES_DSN. Skip if not available.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("SIGINDEX_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres integration test: SIGINDEX_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("Postgres not available: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func TestRepository(t *testing.T) {
	pool := newTestPool(t)
	testutil.RunRepositoryTests(t, func(t *testing.T) checkpoint.Repository {
		_, err := pool.Exec(context.Background(), `TRUNCATE signal_index`)
		require.NoError(t, err)
		return NewRepository(pool)
	})
}

func TestLargeObjectStore(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	store := NewLargeObjectStore(pool)

	data := testutil.NewRNG(1).Bytes(300 * 1024)
	h, err := store.Create(ctx, bytes.NewReader(data))
	require.NoError(t, err)

	blob, err := store.Open(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), blob.Size())
	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	require.NoError(t, blob.Close())
	assert.Equal(t, data, got)

	ok, err := store.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	var found bool
	for _, info := range infos {
		if info.Handle == h {
			found = true
			assert.False(t, info.Created.IsZero())
		}
	}
	assert.True(t, found)

	require.NoError(t, store.Delete(ctx, h))
	require.NoError(t, store.Delete(ctx, h))

	ok, err = store.Exists(ctx, h)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Open(ctx, h)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestAdvisoryLocker(t *testing.T) {
	pool := newTestPool(t)
	locker := NewAdvisoryLocker(pool)

	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		maxSeen atomic.Int32
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "pdq")
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(10 * time.Millisecond)
			holders.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestParseOID(t *testing.T) {
	_, err := parseOID("abc")
	assert.ErrorIs(t, err, blobstore.ErrInvalidHandle)
	_, err = parseOID("0")
	assert.ErrorIs(t, err, blobstore.ErrInvalidHandle)

	oid, err := parseOID("16401")
	require.NoError(t, err)
	assert.Equal(t, uint32(16401), oid)
}
