package sigindex

import (
	"context"
	"fmt"

	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
)

// Reaper reclaims the blob of a deleted checkpoint record.
//
// Store.Disable calls it explicitly after the record was deleted. Callers
// that delete records through other paths must call Reap themselves.
type Reaper struct {
	blobs   blobstore.Store
	logger  *Logger
	metrics MetricsCollector
}

// NewReaper creates a reaper over blobs. Only the logging and metrics
// options apply.
func NewReaper(blobs blobstore.Store, optFns ...Option) *Reaper {
	return newReaper(blobs, applyOptions(optFns))
}

func newReaper(blobs blobstore.Store, opts options) *Reaper {
	return &Reaper{
		blobs:   blobs,
		logger:  opts.logger,
		metrics: opts.metricsCollector,
	}
}

// Reap deletes the blob referenced by rec, if any.
//
// The returned error is informational: it is already logged at WARN level
// and counted as an inconsistency, and the record deletion that preceded
// the call stands. A leaked blob is unreferenced and Reconcile sweeps it.
func (r *Reaper) Reap(ctx context.Context, rec checkpoint.Record) error {
	if !rec.HasBlob() {
		return nil
	}
	err := r.reclaim(ctx, rec.SignalType, PhaseDelete, rec.BlobRef)
	r.metrics.RecordReap(rec.SignalType, err)
	if err == nil {
		r.logger.LogReap(ctx, rec.SignalType, rec.BlobRef, nil)
	}
	return err
}

// reclaim deletes h after checking it is still live. Commit cleanup and
// Reap share it so both apply the same liveness check.
func (r *Reaper) reclaim(ctx context.Context, signalType string, phase Phase, h blobstore.Handle) error {
	live, err := r.blobs.Exists(ctx, h)
	if err != nil {
		return r.inconsistent(ctx, signalType, phase, h, ErrBlobStoreUnavailable, err)
	}
	if !live {
		// Already gone, most likely an earlier partial failure.
		return r.inconsistent(ctx, signalType, phase, h, ErrInconsistency,
			fmt.Errorf("blob %s not live: %w", h, blobstore.ErrNotFound))
	}

	if err := r.blobs.Delete(ctx, h); err != nil {
		return r.inconsistent(ctx, signalType, phase, h, ErrBlobStoreUnavailable, err)
	}

	r.logger.DebugContext(ctx, "blob deleted",
		"signal_type", signalType,
		"phase", string(phase),
		"blob", h.String(),
	)
	return nil
}

func (r *Reaper) inconsistent(ctx context.Context, signalType string, phase Phase, h blobstore.Handle, kind, err error) error {
	r.logger.LogInconsistency(ctx, signalType, phase, h, err)
	r.metrics.RecordInconsistency(signalType, phase)
	op := opCommit
	if phase == PhaseDelete {
		op = opDisable
	}
	return opError(op, signalType, phase, kind, err)
}
