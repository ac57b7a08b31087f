// Package sigindex persists periodically rebuilt signal indexes and tracks
// how far each build has progressed.
//
// A Store commits an in-memory index by serializing it to a local staging
// file, uploading it as a new blob, verifying the upload and then swapping
// the checkpoint record onto the new blob in one conditional write. The
// previous blob is deleted only after the swap is durable, so a crash at
// any point leaves the record pointing at a complete blob. The worst case
// is a leaked, unreferenced blob, which Reconcile finds and removes.
//
// # Quick Start
//
//	blobs, _ := blobstore.NewLocalStore("./blobs")
//	repo := checkpoint.NewMemoryRepository()
//	st, _ := sigindex.New(blobs, repo, signalindex.Codec{})
//
//	idx := signalindex.New()
//	idx.Add("d41d8cd98f00b204e9800998ecf8427e", 1)
//	st.Commit(ctx, "md5", idx, checkpoint.Checkpoint{LastItemID: 1, LastItemTimestamp: 1700000000, TotalHashCount: 1})
//
//	loaded, err := st.Load(ctx, "md5")
//
// # Backends
//
// Blobs live in any blobstore.Store: local files, memory, S3, MinIO,
// Postgres large objects or a SQLite table. Checkpoint records live in any
// checkpoint.Repository: memory, SQLite, Postgres, DynamoDB or Badger.
// Commits to one signal type are serialized with a lock.Locker; pick
// lock.FileLocker or postgres.AdvisoryLocker when several processes commit.
//
// # Errors
//
// Every failure is an *OpError naming the operation, the signal type and the
// failed phase. Match the kind with errors.Is against ErrNotBuilt,
// ErrCorruptIndex, ErrBlobStoreUnavailable and the other sentinels.
// Recoverable inconsistencies during cleanup are logged and counted, never
// returned from Commit or Disable.
package sigindex
