// Package checkpoint defines the durable record that tracks how far an
// index build has progressed and which blob holds the committed index.
//
// There is one Record per signal type. A Repository persists records and
// offers a single mutation, Commit, which atomically sets the counters and
// swaps the blob reference with compare-and-set semantics:
//
//	rec, err := repo.Commit(ctx, "pdq", prev, cp, next)
//	if errors.Is(err, checkpoint.ErrConflict) {
//	    // another writer swapped the reference first
//	}
//
// Implementations live in sibling packages: MemoryRepository here,
// sqlstore (SQLite), postgres, checkpoint/dynamo and checkpoint/badgerstore.
package checkpoint
