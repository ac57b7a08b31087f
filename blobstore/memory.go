package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation for testing.
// It stores blobs in memory without any filesystem dependency.
// Thread-safe for concurrent reads and writes.
type MemoryStore struct {
	mu    sync.RWMutex
	seq   uint64
	blobs map[Handle]memoryObject
	now   func() time.Time
}

type memoryObject struct {
	data    []byte
	created time.Time
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[Handle]memoryObject),
		now:   time.Now,
	}
}

// SetClock replaces the clock used to stamp new blobs.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Create stores r as a new blob. Handles are allocated from a counter
// that only moves forward.
func (m *MemoryStore) Create(ctx context.Context, r io.Reader) (Handle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	h := Handle("mem-" + strconv.FormatUint(m.seq, 10))
	m.blobs[h] = memoryObject{data: data, created: m.now()}
	return h, nil
}

// Open opens a blob for reading.
func (m *MemoryStore) Open(_ context.Context, h Handle) (Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.blobs[h]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", h, ErrNotFound)
	}

	// Stored slices are never mutated, so readers can share them.
	return NopBlob(bytes.NewReader(obj.data), int64(len(obj.data))), nil
}

// Exists reports whether the blob is present.
func (m *MemoryStore) Exists(_ context.Context, h Handle) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blobs[h]
	return ok, nil
}

// Delete removes a blob.
func (m *MemoryStore) Delete(_ context.Context, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, h)
	return nil
}

// List returns all blobs ordered by handle.
func (m *MemoryStore) List(_ context.Context) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]ObjectInfo, 0, len(m.blobs))
	for h, obj := range m.blobs {
		infos = append(infos, ObjectInfo{Handle: h, Size: int64(len(obj.data)), Created: obj.created})
	}
	sort.Slice(infos, func(i, j int) bool {
		return strings.Compare(string(infos[i].Handle), string(infos[j].Handle)) < 0
	})
	return infos, nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
