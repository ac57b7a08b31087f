package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunRepositoryTests runs the behaviour every checkpoint.Repository must
// share. newRepo must return an empty repository.
func RunRepositoryTests(t *testing.T, newRepo func(t *testing.T) checkpoint.Repository) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, "pdq")
		require.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("CreateIsIdempotent", func(t *testing.T) {
		repo := newRepo(t)

		rec, err := repo.Create(ctx, "pdq")
		require.NoError(t, err)
		assert.Equal(t, "pdq", rec.SignalType)
		assert.False(t, rec.HasBlob())

		_, err = repo.Commit(ctx, "pdq", "", checkpoint.Checkpoint{TotalHashCount: 3}, "h1")
		require.NoError(t, err)

		again, err := repo.Create(ctx, "pdq")
		require.NoError(t, err)
		assert.Equal(t, blobstore.Handle("h1"), again.BlobRef)
		assert.Equal(t, int64(3), again.SignalCount)
	})

	t.Run("CommitCreatesMissingRecord", func(t *testing.T) {
		repo := newRepo(t)
		cp := checkpoint.Checkpoint{LastItemID: 7, LastItemTimestamp: 1700000000, TotalHashCount: 100}

		rec, err := repo.Commit(ctx, "pdq", "", cp, "h1")
		require.NoError(t, err)
		assert.Equal(t, blobstore.Handle("h1"), rec.BlobRef)
		assert.Equal(t, cp, rec.Checkpoint())
		assert.False(t, rec.LastModified.IsZero())

		got, err := repo.Get(ctx, "pdq")
		require.NoError(t, err)
		assert.Equal(t, cp, got.Checkpoint())
		assert.Equal(t, blobstore.Handle("h1"), got.BlobRef)
	})

	t.Run("CommitSwapsReference", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Create(ctx, "pdq")
		require.NoError(t, err)

		_, err = repo.Commit(ctx, "pdq", "", checkpoint.Checkpoint{TotalHashCount: 100}, "h1")
		require.NoError(t, err)

		rec, err := repo.Commit(ctx, "pdq", "h1", checkpoint.Checkpoint{TotalHashCount: 150, LastItemID: 9}, "h2")
		require.NoError(t, err)
		assert.Equal(t, blobstore.Handle("h2"), rec.BlobRef)
		assert.Equal(t, int64(150), rec.SignalCount)
		assert.Equal(t, int64(9), rec.UpdatedToItemID)
	})

	t.Run("CommitConflict", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Commit(ctx, "pdq", "", checkpoint.Checkpoint{TotalHashCount: 100}, "h1")
		require.NoError(t, err)

		_, err = repo.Commit(ctx, "pdq", "", checkpoint.Checkpoint{TotalHashCount: 1}, "h2")
		require.ErrorIs(t, err, checkpoint.ErrConflict)

		_, err = repo.Commit(ctx, "pdq", "stale", checkpoint.Checkpoint{TotalHashCount: 1}, "h3")
		require.ErrorIs(t, err, checkpoint.ErrConflict)

		_, err = repo.Commit(ctx, "other", "h1", checkpoint.Checkpoint{}, "h4")
		require.ErrorIs(t, err, checkpoint.ErrConflict)

		rec, err := repo.Get(ctx, "pdq")
		require.NoError(t, err)
		assert.Equal(t, blobstore.Handle("h1"), rec.BlobRef, "losing commits must not mutate the record")
		assert.Equal(t, int64(100), rec.SignalCount)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Commit(ctx, "pdq", "", checkpoint.Checkpoint{TotalHashCount: 5}, "h1")
		require.NoError(t, err)

		rec, err := repo.Delete(ctx, "pdq")
		require.NoError(t, err)
		assert.Equal(t, blobstore.Handle("h1"), rec.BlobRef)
		assert.Equal(t, int64(5), rec.SignalCount)

		_, err = repo.Get(ctx, "pdq")
		require.ErrorIs(t, err, checkpoint.ErrNotFound)

		_, err = repo.Delete(ctx, "pdq")
		require.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		repo := newRepo(t)
		for _, st := range []string{"video_md5", "pdq", "raw_text"} {
			_, err := repo.Create(ctx, st)
			require.NoError(t, err)
		}

		recs, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "pdq", recs[0].SignalType)
		assert.Equal(t, "raw_text", recs[1].SignalType)
		assert.Equal(t, "video_md5", recs[2].SignalType)
	})

	t.Run("ConcurrentCommitsOneWinner", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Commit(ctx, "pdq", "", checkpoint.Checkpoint{}, "base")
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   int
			conflicts int
		)
		for i := range writers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.Commit(ctx, "pdq", "base", checkpoint.Checkpoint{TotalHashCount: int64(i)}, blobstore.Handle(fmt.Sprintf("next-%d", i)))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case errors.Is(err, checkpoint.ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
		assert.Equal(t, writers-1, conflicts)
	})
}
