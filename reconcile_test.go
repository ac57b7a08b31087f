package sigindex_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sigindex"
	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
	"github.com/hupe1980/sigindex/signalindex"
	"github.com/hupe1980/sigindex/testutil"
)

func TestReconcile_DryRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.commitN(t, "FOO", 10)

	orphan, err := f.mem.Create(ctx, strings.NewReader("leftover"))
	require.NoError(t, err)

	report, err := f.store.Reconcile(ctx, sigindex.ReconcileOptions{MinAge: -1, DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Scanned)
	require.Len(t, report.Orphans, 1)
	assert.Equal(t, orphan, report.Orphans[0].Handle)
	assert.Empty(t, report.Deleted)
	assert.Equal(t, 2, f.mem.Len())
	assert.Zero(t, f.blobs.Calls(testutil.OpDelete))
}

func TestReconcile_MinAgeProtectsRecentUploads(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, sigindex.WithClock(func() time.Time { return now }))

	f.mem.SetClock(func() time.Time { return now.Add(-2 * time.Hour) })
	old, err := f.mem.Create(ctx, strings.NewReader("old"))
	require.NoError(t, err)

	f.mem.SetClock(func() time.Time { return now.Add(-time.Minute) })
	fresh, err := f.mem.Create(ctx, strings.NewReader("fresh"))
	require.NoError(t, err)

	report, err := f.store.Reconcile(ctx, sigindex.ReconcileOptions{})
	require.NoError(t, err)
	assert.Len(t, report.Orphans, 2)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, fresh, report.Skipped[0].Handle)
	assert.Equal(t, []blobstore.Handle{old}, report.Deleted)
	assert.Equal(t, int64(3), report.ReclaimedBytes)
}

func TestReconcile_ReportsDanglingRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := f.commitN(t, "FOO", 10)
	f.commitN(t, "BAR", 10)
	_, err := f.store.Enable(ctx, "BAZ")
	require.NoError(t, err)

	require.NoError(t, f.mem.Delete(ctx, rec.BlobRef))

	report, err := f.store.Reconcile(ctx, sigindex.ReconcileOptions{MinAge: -1})
	require.NoError(t, err)
	require.Len(t, report.Dangling, 1)
	assert.Equal(t, "FOO", report.Dangling[0].SignalType)
	assert.Equal(t, 1, report.Referenced)
	assert.Empty(t, report.Orphans)
	assert.Equal(t, int64(1), f.metrics.GetStats().Inconsistencies)
}

func TestReconcile_DeleteFailuresAreReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a, err := f.mem.Create(ctx, strings.NewReader("a"))
	require.NoError(t, err)
	b, err := f.mem.Create(ctx, strings.NewReader("b"))
	require.NoError(t, err)

	f.blobs.FailNext(testutil.OpDelete, errors.New("throttled"))

	report, err := f.store.Reconcile(ctx, sigindex.ReconcileOptions{MinAge: -1, Concurrency: 1})
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	require.Len(t, report.Deleted, 1)
	assert.ElementsMatch(t, []blobstore.Handle{a, b}, append(report.Failed, report.Deleted...))
	assert.Equal(t, 1, f.mem.Len())

	exists, err := f.mem.Exists(ctx, report.Failed[0])
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestReconcile_RateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for range 5 {
		_, err := f.mem.Create(ctx, strings.NewReader("x"))
		require.NoError(t, err)
	}

	report, err := f.store.Reconcile(ctx, sigindex.ReconcileOptions{MinAge: -1, DeletesPerSecond: 1000})
	require.NoError(t, err)
	assert.Len(t, report.Deleted, 5)
	assert.Zero(t, f.mem.Len())

	stats := f.metrics.GetStats()
	assert.Equal(t, int64(5), stats.OrphansDeleted)
	assert.Equal(t, int64(1), stats.ReconcileCount)
}

func TestReconcile_ListFailure(t *testing.T) {
	f := newFixture(t)
	f.blobs.FailNext(testutil.OpList, errors.New("bucket unreachable"))

	_, err := f.store.Reconcile(context.Background(), sigindex.ReconcileOptions{})
	require.ErrorIs(t, err, sigindex.ErrBlobStoreUnavailable)
	assert.Equal(t, int64(1), f.metrics.GetStats().ReconcileErrors)
}

type unlistable struct {
	blobstore.Store
}

func TestReconcile_RequiresLister(t *testing.T) {
	st, err := sigindex.New(unlistable{blobstore.NewMemoryStore()}, checkpoint.NewMemoryRepository(), signalindex.Codec{})
	require.NoError(t, err)

	_, err = st.Reconcile(context.Background(), sigindex.ReconcileOptions{})
	require.ErrorIs(t, err, blobstore.ErrListUnsupported)
	assert.ErrorIs(t, err, sigindex.ErrInvalidArgument)
}
