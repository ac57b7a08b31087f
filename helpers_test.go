package sigindex_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sigindex"
	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
	"github.com/hupe1980/sigindex/signalindex"
	"github.com/hupe1980/sigindex/testutil"
)

type fixture struct {
	mem     *blobstore.MemoryStore
	blobs   *testutil.FaultyStore
	repo    *hookRepository
	metrics *sigindex.BasicMetricsCollector
	store   *sigindex.Store[*signalindex.Index]
}

func newFixture(t *testing.T, opts ...sigindex.Option) *fixture {
	t.Helper()

	f := &fixture{
		mem:     blobstore.NewMemoryStore(),
		repo:    &hookRepository{Repository: checkpoint.NewMemoryRepository()},
		metrics: &sigindex.BasicMetricsCollector{},
	}
	f.blobs = testutil.NewFaultyStore(f.mem)

	opts = append([]sigindex.Option{
		sigindex.WithMetricsCollector(f.metrics),
		sigindex.WithStagingDir(t.TempDir()),
	}, opts...)

	st, err := sigindex.New(f.blobs, f.repo, signalindex.Codec{}, opts...)
	require.NoError(t, err)
	f.store = st
	return f
}

// commitN commits an index with n entries whose high-water mark is item n.
func (f *fixture) commitN(t *testing.T, signalType string, n int) checkpoint.Record {
	t.Helper()
	rec, err := f.store.Commit(context.Background(), signalType, indexN(n), checkpointN(n))
	require.NoError(t, err)
	return rec
}

type loadResult struct {
	idx *signalindex.Index
	err error
}

// gateFirstOpen blocks the first blob Open until release is closed and
// closes entered once that Open has started.
func (f *fixture) gateFirstOpen() (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var opens atomic.Int32
	f.blobs.OnCall(testutil.OpOpen, func(blobstore.Handle) {
		if opens.Add(1) == 1 {
			close(entered)
			<-release
		}
	})
	return entered, release
}

func indexN(n int) *signalindex.Index {
	x := signalindex.New()
	for i := 1; i <= n; i++ {
		x.Add(fmt.Sprintf("h%05d", i), uint64(i))
	}
	return x
}

func checkpointN(n int) checkpoint.Checkpoint {
	return checkpoint.Checkpoint{
		LastItemID:        int64(n),
		LastItemTimestamp: int64(n) * 10,
		TotalHashCount:    int64(n),
	}
}

func encode(t *testing.T, x *signalindex.Index) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, signalindex.Codec{}.Encode(&buf, x))
	return buf.Bytes()
}

// hookRepository lets tests interfere with repository calls.
type hookRepository struct {
	checkpoint.Repository

	mu           sync.Mutex
	beforeCommit func()
	commitErr    error // returned after the write landed
	failCommit   error // returned instead of writing
	failGet      error
}

func (r *hookRepository) Commit(ctx context.Context, signalType string, prev blobstore.Handle, cp checkpoint.Checkpoint, next blobstore.Handle) (checkpoint.Record, error) {
	r.mu.Lock()
	hook, landedErr, failErr := r.beforeCommit, r.commitErr, r.failCommit
	r.beforeCommit, r.commitErr, r.failCommit = nil, nil, nil
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	if failErr != nil {
		return checkpoint.Record{}, failErr
	}
	rec, err := r.Repository.Commit(ctx, signalType, prev, cp, next)
	if err == nil && landedErr != nil {
		return checkpoint.Record{}, landedErr
	}
	return rec, err
}

func (r *hookRepository) Get(ctx context.Context, signalType string) (checkpoint.Record, error) {
	r.mu.Lock()
	failErr := r.failGet
	r.mu.Unlock()
	if failErr != nil {
		return checkpoint.Record{}, failErr
	}
	return r.Repository.Get(ctx, signalType)
}

func (r *hookRepository) set(fn func(r *hookRepository)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}
