package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/sigindex/blobstore"
)

var (
	// ErrNotFound is returned when no record exists for a signal type.
	ErrNotFound = errors.New("checkpoint: record not found")

	// ErrConflict is returned by Commit when the stored blob reference no
	// longer matches the expected previous reference.
	ErrConflict = errors.New("checkpoint: blob reference changed concurrently")
)

// Checkpoint is the build progress produced by a builder.
type Checkpoint struct {
	// LastItemID is the id of the newest item folded into the index.
	LastItemID int64 `json:"last_item_id"`
	// LastItemTimestamp is the timestamp (unix seconds) of that item.
	LastItemTimestamp int64 `json:"last_item_timestamp"`
	// TotalHashCount is the number of entries in the index.
	TotalHashCount int64 `json:"total_hash_count"`
}

// IsZero reports whether no item was ever folded in.
func (c Checkpoint) IsZero() bool {
	return c == Checkpoint{}
}

// Before reports whether (ts, id) sorts at or before the high-water mark.
func (c Checkpoint) Before(ts, id int64) bool {
	if ts != c.LastItemTimestamp {
		return ts < c.LastItemTimestamp
	}
	return id <= c.LastItemID
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("hashes=%d last_id=%d last_ts=%d", c.TotalHashCount, c.LastItemID, c.LastItemTimestamp)
}

// Record is the persisted progress of one signal type.
type Record struct {
	SignalType      string           `json:"signal_type" yaml:"signal_type"`
	SignalCount     int64            `json:"signal_count" yaml:"signal_count"`
	UpdatedToItemID int64            `json:"updated_to_item_id" yaml:"updated_to_item_id"`
	UpdatedToItemTS int64            `json:"updated_to_item_ts" yaml:"updated_to_item_ts"`
	LastModified    time.Time        `json:"last_modified" yaml:"last_modified"`
	BlobRef         blobstore.Handle `json:"blob_ref,omitempty" yaml:"blob_ref,omitempty"`
}

// HasBlob reports whether an index was ever committed for the record.
func (r Record) HasBlob() bool {
	return !r.BlobRef.IsZero()
}

// Checkpoint returns the build progress stored in the record.
func (r Record) Checkpoint() Checkpoint {
	return Checkpoint{
		LastItemID:        r.UpdatedToItemID,
		LastItemTimestamp: r.UpdatedToItemTS,
		TotalHashCount:    r.SignalCount,
	}
}

// Apply folds cp into the record and points it at next.
func (r *Record) Apply(cp Checkpoint, next blobstore.Handle, now time.Time) {
	r.SignalCount = cp.TotalHashCount
	r.UpdatedToItemID = cp.LastItemID
	r.UpdatedToItemTS = cp.LastItemTimestamp
	r.BlobRef = next
	r.LastModified = now
}

// Repository persists checkpoint records.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns the record for signalType or ErrNotFound.
	Get(ctx context.Context, signalType string) (Record, error)

	// Create inserts an empty record. Creating an existing record returns
	// the stored record unchanged.
	Create(ctx context.Context, signalType string) (Record, error)

	// Commit sets the counters and the blob reference in one atomic write,
	// provided the stored reference still equals prev. A missing record is
	// created when prev is zero. Any mismatch yields ErrConflict.
	Commit(ctx context.Context, signalType string, prev blobstore.Handle, cp Checkpoint, next blobstore.Handle) (Record, error)

	// Delete removes the record and returns it as it was, or ErrNotFound.
	Delete(ctx context.Context, signalType string) (Record, error)

	// List returns all records ordered by signal type.
	List(ctx context.Context) ([]Record, error)
}
