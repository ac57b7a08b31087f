package sigindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
	"github.com/hupe1980/sigindex/codec"
)

var (
	// ErrSerialization is returned when the codec cannot encode an index.
	// Persisted state is left untouched.
	ErrSerialization = errors.New("serialization failed")

	// ErrBlobStoreUnavailable marks transient blob store or repository
	// faults. Retrying the whole operation with backoff is safe.
	ErrBlobStoreUnavailable = errors.New("blob store unavailable")

	// ErrInconsistency marks a record whose blob is missing, or a previous
	// blob that was already gone at cleanup time. Commit and Disable only log
	// it; Load returns it when it cannot proceed.
	ErrInconsistency = errors.New("recoverable inconsistency")

	// ErrNotBuilt is returned by Load before the first successful commit.
	ErrNotBuilt = errors.New("index not built")

	// ErrCorruptIndex is returned when a stored blob does not decode.
	// The index must be rebuilt.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrConcurrentCommit is returned when another writer swapped the blob
	// reference first.
	ErrConcurrentCommit = errors.New("concurrent commit")

	// ErrNonMonotonic is returned by the Rebuilder when the item source
	// yields an item at or before the committed high-water mark.
	ErrNonMonotonic = errors.New("item source is not monotonic")

	// ErrInvalidArgument is returned for empty signal types and nil
	// collaborators.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Phase names the step of an operation that failed.
type Phase string

const (
	PhaseLock      Phase = "lock"
	PhaseSerialize Phase = "serialize"
	PhaseUpload    Phase = "upload"
	PhaseVerify    Phase = "verify"
	PhaseLookup    Phase = "lookup"
	PhaseSwap      Phase = "swap"
	PhaseCleanup   Phase = "cleanup"
	PhaseRead      Phase = "read"
	PhaseDecode    Phase = "decode"
	PhaseDelete    Phase = "delete"
	PhaseList      Phase = "list"
)

// OpError describes a failed operation on one signal type.
//
// Kind is one of the package sentinels and Err the underlying cause; both
// are reachable through errors.Is and errors.As.
type OpError struct {
	Op         string
	SignalType string
	Phase      Phase
	Kind       error
	Err        error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("sigindex: %s %q: %s: %v", e.Op, e.SignalType, e.Phase, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op, signalType string, phase Phase, kind, err error) *OpError {
	return &OpError{Op: op, SignalType: signalType, Phase: phase, Kind: kind, Err: err}
}

// classify maps collaborator errors onto the sentinel taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrBlobStoreUnavailable
	case errors.Is(err, checkpoint.ErrConflict):
		return ErrConcurrentCommit
	case errors.Is(err, codec.ErrCorrupt):
		return ErrCorruptIndex
	case errors.Is(err, blobstore.ErrNotFound):
		return ErrInconsistency
	default:
		return ErrBlobStoreUnavailable
	}
}
