package sigindex

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/hupe1980/sigindex/checkpoint"
)

// Item is one source record folded into an index.
type Item struct {
	ID        int64
	Timestamp int64
	Hashes    []string
}

// ItemSource yields the items of a signal type strictly after a
// high-water mark, ordered by (Timestamp, ID).
type ItemSource interface {
	ItemsAfter(ctx context.Context, signalType string, after checkpoint.Checkpoint) iter.Seq2[Item, error]
}

// ItemSourceFunc adapts a function to ItemSource.
type ItemSourceFunc func(ctx context.Context, signalType string, after checkpoint.Checkpoint) iter.Seq2[Item, error]

// ItemsAfter implements ItemSource.
func (f ItemSourceFunc) ItemsAfter(ctx context.Context, signalType string, after checkpoint.Checkpoint) iter.Seq2[Item, error] {
	return f(ctx, signalType, after)
}

// Folder describes how the Rebuilder grows an index of type T.
type Folder[T any] struct {
	// New returns an empty index.
	New func() T
	// Fold adds item to index and returns the result.
	Fold func(index T, item Item) T
	// Len returns the number of entries in index.
	Len func(index T) int64
}

// RebuildResult summarizes one Rebuild call.
type RebuildResult struct {
	SignalType string
	Items      int
	Full       bool // started from an empty index
	Committed  bool
	Checkpoint checkpoint.Checkpoint
	Record     checkpoint.Record
}

// Rebuilder incrementally rebuilds indexes: it resumes from the committed
// checkpoint, folds in newer items and commits the result.
type Rebuilder[T any] struct {
	store  *Store[T]
	source ItemSource
	folder Folder[T]
}

// NewRebuilder creates a Rebuilder. All Folder functions are required.
func NewRebuilder[T any](store *Store[T], source ItemSource, folder Folder[T]) (*Rebuilder[T], error) {
	if store == nil || source == nil || folder.New == nil || folder.Fold == nil || folder.Len == nil {
		return nil, fmt.Errorf("sigindex: %w: incomplete rebuilder", ErrInvalidArgument)
	}
	return &Rebuilder[T]{store: store, source: source, folder: folder}, nil
}

// Rebuild brings the index of signalType up to date.
//
// The source must yield items in strictly increasing (Timestamp, ID) order
// beyond the committed mark; otherwise Rebuild fails with ErrNonMonotonic
// and commits nothing. A corrupt stored index triggers a full rebuild.
// Nothing is committed when there are no new items and an index exists.
func (b *Rebuilder[T]) Rebuild(ctx context.Context, signalType string) (RebuildResult, error) {
	res := RebuildResult{SignalType: signalType}
	logger := b.store.opts.logger

	var hasBlob bool
	rec, err := b.store.repo.Get(ctx, signalType)
	switch {
	case err == nil:
		hasBlob = rec.HasBlob()
	case errors.Is(err, checkpoint.ErrNotFound):
	default:
		return res, opError(opRebuild, signalType, PhaseLookup, classify(err), err)
	}

	mark := rec.Checkpoint()
	var index T
	if hasBlob {
		// Fold mutates the index, so it must not be one shared with readers.
		index, err = b.store.load(ctx, signalType)
		switch {
		case err == nil:
		case errors.Is(err, ErrCorruptIndex), errors.Is(err, ErrInconsistency):
			logger.WarnContext(ctx, "stored index unusable, rebuilding from scratch",
				"signal_type", signalType,
				"error", err,
			)
			hasBlob = false
		default:
			return res, err
		}
	}
	if !hasBlob {
		index = b.folder.New()
		mark = checkpoint.Checkpoint{}
		res.Full = true
	}

	base := mark
	for item, err := range b.source.ItemsAfter(ctx, signalType, base) {
		if err != nil {
			return res, opError(opRebuild, signalType, PhaseRead, classify(err), err)
		}
		if res.Items > 0 || !base.IsZero() {
			if mark.Before(item.Timestamp, item.ID) {
				return res, opError(opRebuild, signalType, PhaseRead, ErrNonMonotonic,
					fmt.Errorf("item %d@%d not after %d@%d", item.ID, item.Timestamp, mark.LastItemID, mark.LastItemTimestamp))
			}
		}
		index = b.folder.Fold(index, item)
		mark.LastItemID = item.ID
		mark.LastItemTimestamp = item.Timestamp
		res.Items++
	}

	mark.TotalHashCount = b.folder.Len(index)
	res.Checkpoint = mark

	if res.Items == 0 && hasBlob {
		res.Record = rec
		return res, nil
	}

	rec, err = b.store.Commit(ctx, signalType, index, mark)
	if err != nil {
		return res, err
	}
	res.Committed = true
	res.Record = rec

	logger.InfoContext(ctx, "index rebuilt",
		"signal_type", signalType,
		"items", res.Items,
		"full", res.Full,
		"entries", mark.TotalHashCount,
	)
	return res, nil
}
