package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/sigindex/blobstore"
)

// MemoryRepository is an in-memory Repository for tests and single-process use.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for LastModified.
func (m *MemoryRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get returns the record for signalType.
func (m *MemoryRepository) Get(ctx context.Context, signalType string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[signalType]
	if !ok {
		return Record{}, fmt.Errorf("%s: %w", signalType, ErrNotFound)
	}
	return rec, nil
}

// Create inserts an empty record if none exists.
func (m *MemoryRepository) Create(ctx context.Context, signalType string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[signalType]; ok {
		return rec, nil
	}
	rec := Record{SignalType: signalType, LastModified: m.now()}
	m.records[signalType] = rec
	return rec, nil
}

// Commit swaps the blob reference if it still equals prev.
func (m *MemoryRepository) Commit(ctx context.Context, signalType string, prev blobstore.Handle, cp Checkpoint, next blobstore.Handle) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[signalType]
	switch {
	case !ok && !prev.IsZero():
		return Record{}, fmt.Errorf("%s: %w", signalType, ErrConflict)
	case ok && rec.BlobRef != prev:
		return Record{}, fmt.Errorf("%s: expected %q, found %q: %w", signalType, prev, rec.BlobRef, ErrConflict)
	}

	rec.SignalType = signalType
	rec.Apply(cp, next, m.now())
	m.records[signalType] = rec
	return rec, nil
}

// Delete removes the record.
func (m *MemoryRepository) Delete(ctx context.Context, signalType string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[signalType]
	if !ok {
		return Record{}, fmt.Errorf("%s: %w", signalType, ErrNotFound)
	}
	delete(m.records, signalType)
	return rec, nil
}

// List returns all records ordered by signal type.
func (m *MemoryRepository) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalType < out[j].SignalType })
	return out, nil
}
