// Package blobstore provides the storage abstraction for serialized indexes.
//
// A Store keeps immutable large binary objects addressed by opaque,
// single-use handles. Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests
//   - LocalStore: local filesystem, one file per blob
//   - CachingStore: LRU read cache in front of any Store
//   - s3.Store: Amazon S3 with multipart uploads
//   - minio.Store: MinIO and other S3-compatible services
//   - postgres.LargeObjectStore: PostgreSQL large objects
//   - sqlstore.BlobStore: BLOB rows in a database/sql table
//
// # Custom Implementations
//
// Implement the Store interface to support custom storage backends:
//
//	type Store interface {
//	    Create(ctx, r) (Handle, error)    // Upload a new blob
//	    Open(ctx, h) (Blob, error)        // Stream it back
//	    Exists(ctx, h) (bool, error)      // Liveness probe
//	    Delete(ctx, h) error              // Idempotent removal
//	}
//
// Stores that can enumerate their content should also implement Lister,
// which the reconciliation pass needs to find orphaned blobs.
package blobstore
