package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

var (
	// ErrInvalidHandle is returned when a handle cannot belong to the store.
	ErrInvalidHandle = errors.New("blobstore: invalid handle")

	// ErrListUnsupported is returned by wrappers whose inner store is not a Lister.
	ErrListUnsupported = errors.New("blobstore: listing not supported")
)

// Handle identifies a blob. Handles are opaque, stable across connections
// and never reused once the blob they name has been deleted.
//
// The zero value means "no blob".
type Handle string

// IsZero reports whether h refers to no blob.
func (h Handle) IsZero() bool { return h == "" }

func (h Handle) String() string { return string(h) }

// Store is an abstraction for storing immutable large binary objects.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create stores the content of r as a new blob and returns its handle.
	// The blob is durable and visible to Open once Create returns.
	Create(ctx context.Context, r io.Reader) (Handle, error)

	// Open opens a blob for reading.
	Open(ctx context.Context, h Handle) (Blob, error)

	// Exists reports whether the blob is present.
	Exists(ctx context.Context, h Handle) (bool, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, h Handle) error
}

// Lister is implemented by stores that can enumerate their blobs.
// It is required for reconciliation.
type Lister interface {
	List(ctx context.Context) ([]ObjectInfo, error)
}

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Handle  Handle
	Size    int64
	Created time.Time // zero if the backend cannot tell
}

// Blob is a read-only stream over a stored blob.
type Blob interface {
	io.ReadCloser
	// Size returns the size of the blob in bytes.
	Size() int64
}

// NopBlob wraps r as a Blob with a no-op Close.
func NopBlob(r io.Reader, size int64) Blob {
	return &nopBlob{Reader: r, size: size}
}

type nopBlob struct {
	io.Reader
	size int64
}

func (b *nopBlob) Close() error { return nil }
func (b *nopBlob) Size() int64  { return b.size }
