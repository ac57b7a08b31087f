package blobstore

import (
	"bytes"
	"context"
	"io"

	"github.com/hupe1980/sigindex/internal/cache"
)

// CachingStore wraps a Store and keeps recently opened blobs in memory.
//
// Handles are never reused, so a cached blob can never go stale. Blobs
// larger than the cache capacity are streamed from the inner store.
type CachingStore struct {
	inner Store
	cache *cache.LRU
}

// NewCachingStore creates a new CachingStore.
func NewCachingStore(inner Store, c *cache.LRU) *CachingStore {
	return &CachingStore{
		inner: inner,
		cache: c,
	}
}

// Create passes through; new blobs are cached on first Open.
func (s *CachingStore) Create(ctx context.Context, r io.Reader) (Handle, error) {
	return s.inner.Create(ctx, r)
}

// Open serves the blob from the cache, filling it on a miss.
func (s *CachingStore) Open(ctx context.Context, h Handle) (Blob, error) {
	if data, ok := s.cache.Get(string(h)); ok {
		return NopBlob(bytes.NewReader(data), int64(len(data))), nil
	}

	b, err := s.inner.Open(ctx, h)
	if err != nil {
		return nil, err
	}
	if b.Size() > s.cache.Capacity() {
		return b, nil
	}
	defer b.Close()

	data, err := io.ReadAll(b)
	if err != nil {
		return nil, err
	}
	s.cache.Set(string(h), data)
	return NopBlob(bytes.NewReader(data), int64(len(data))), nil
}

// Exists always asks the inner store; the cache may outlive a blob that
// was deleted by another process.
func (s *CachingStore) Exists(ctx context.Context, h Handle) (bool, error) {
	return s.inner.Exists(ctx, h)
}

// Delete removes the blob and drops it from the cache.
func (s *CachingStore) Delete(ctx context.Context, h Handle) error {
	s.cache.Remove(string(h))
	return s.inner.Delete(ctx, h)
}

// List passes through when the inner store supports listing.
func (s *CachingStore) List(ctx context.Context) ([]ObjectInfo, error) {
	l, ok := s.inner.(Lister)
	if !ok {
		return nil, ErrListUnsupported
	}
	return l.List(ctx)
}
