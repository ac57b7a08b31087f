package sigindex

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
	"github.com/hupe1980/sigindex/codec"
	"github.com/hupe1980/sigindex/resource"
)

const (
	tracerName = "github.com/hupe1980/sigindex"

	opCommit    = "commit"
	opLoad      = "load"
	opLiveness  = "liveness"
	opEnable    = "enable"
	opDisable   = "disable"
	opReconcile = "reconcile"
	opRebuild   = "rebuild"

	// maxLoadAttempts bounds how often Load re-resolves a record whose blob
	// was replaced while it was being opened.
	maxLoadAttempts = 3

	ioBufferSize = 1 << 20
)

// Store persists one index per signal type and tracks build progress.
//
// It is the only writer of checkpoint blob references. All methods are safe
// for concurrent use; commits to the same signal type are serialized by the
// configured lock.Locker.
type Store[T any] struct {
	blobs  blobstore.Store
	repo   checkpoint.Repository
	codec  codec.Codec[T]
	opts   options
	tracer trace.Tracer
	reaper *Reaper
	loads  singleflight.Group
}

// New creates a Store over the given blob store, checkpoint repository and
// codec.
func New[T any](blobs blobstore.Store, repo checkpoint.Repository, c codec.Codec[T], optFns ...Option) (*Store[T], error) {
	if blobs == nil || repo == nil || c == nil {
		return nil, fmt.Errorf("sigindex: %w: nil collaborator", ErrInvalidArgument)
	}

	opts := applyOptions(optFns)

	return &Store[T]{
		blobs:  blobs,
		repo:   repo,
		codec:  c,
		opts:   opts,
		tracer: opts.tracerProvider.Tracer(tracerName),
		reaper: newReaper(blobs, opts),
	}, nil
}

// Reaper returns the reaper used by Disable.
func (s *Store[T]) Reaper() *Reaper {
	return s.reaper
}

// Commit serializes index, uploads it as a new blob and points the record
// for signalType at it together with cp. The previous blob is deleted once
// the swap is durable.
//
// The record is only mutated after the new blob was uploaded and verified.
// A failure before the swap leaves the record untouched; the uploaded blob
// is removed best-effort and otherwise left for Reconcile.
func (s *Store[T]) Commit(ctx context.Context, signalType string, index T, cp checkpoint.Checkpoint) (rec checkpoint.Record, err error) {
	if signalType == "" {
		return checkpoint.Record{}, opError(opCommit, signalType, PhaseLookup, ErrInvalidArgument, errors.New("empty signal type"))
	}

	ctx, span := s.startSpan(ctx, "sigindex.Commit", signalType,
		attribute.Int64("checkpoint.total_hash_count", cp.TotalHashCount),
		attribute.Int64("checkpoint.last_item_id", cp.LastItemID),
	)
	start := s.opts.now()
	var size int64
	defer func() {
		elapsed := s.opts.now().Sub(start)
		s.opts.metricsCollector.RecordCommit(signalType, size, elapsed, err)
		s.opts.logger.LogCommit(ctx, signalType, rec.BlobRef, size, elapsed, err)
		endSpan(span, err)
	}()

	if err := s.opts.rc.AcquireCommit(ctx); err != nil {
		return checkpoint.Record{}, opError(opCommit, signalType, PhaseLock, ErrBlobStoreUnavailable, err)
	}
	defer s.opts.rc.ReleaseCommit()

	unlock, err := s.opts.locker.Lock(ctx, signalType)
	if err != nil {
		return checkpoint.Record{}, opError(opCommit, signalType, PhaseLock, ErrConcurrentCommit, err)
	}
	defer unlock()

	staged, err := s.stage(ctx, signalType, index, cp)
	if err != nil {
		return checkpoint.Record{}, err
	}
	defer s.unstage(ctx, signalType, staged)
	size = staged.size

	next, err := s.upload(ctx, signalType, staged)
	if err != nil {
		return checkpoint.Record{}, err
	}
	span.SetAttributes(attribute.String("blob.handle", next.String()))

	if err := s.verify(ctx, next, staged.size); err != nil {
		s.discard(ctx, signalType, next)
		return checkpoint.Record{}, opError(opCommit, signalType, PhaseVerify, classifyVerify(err), err)
	}

	var prev blobstore.Handle
	cur, err := s.repo.Get(ctx, signalType)
	switch {
	case err == nil:
		prev = cur.BlobRef
	case errors.Is(err, checkpoint.ErrNotFound):
	default:
		s.discard(ctx, signalType, next)
		return checkpoint.Record{}, opError(opCommit, signalType, PhaseLookup, classify(err), err)
	}

	rec, err = s.swap(ctx, signalType, prev, cp, next)
	if err != nil {
		return checkpoint.Record{}, err
	}

	if !prev.IsZero() && prev != next {
		// The new state is durable; cleanup must not be cut short by the caller.
		_ = s.reaper.reclaim(context.WithoutCancel(ctx), signalType, PhaseCleanup, prev)
	}

	return rec, nil
}

type stagedIndex struct {
	file *os.File
	size int64
}

// stage encodes index into a local temp file.
func (s *Store[T]) stage(ctx context.Context, signalType string, index T, cp checkpoint.Checkpoint) (*stagedIndex, error) {
	start := s.opts.now()

	f, err := os.CreateTemp(s.opts.stagingDir, "sigindex-*.stage")
	if err != nil {
		return nil, opError(opCommit, signalType, PhaseSerialize, ErrSerialization, err)
	}
	staged := &stagedIndex{file: f}

	fail := func(err error) (*stagedIndex, error) {
		s.unstage(ctx, signalType, staged)
		return nil, opError(opCommit, signalType, PhaseSerialize, ErrSerialization, err)
	}

	bw := bufio.NewWriterSize(f, ioBufferSize)
	if err := s.codec.Encode(bw, index); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	n, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fail(err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}
	staged.size = n

	s.opts.logger.LogStaged(ctx, signalType, f.Name(), cp.TotalHashCount, n, s.opts.now().Sub(start))
	return staged, nil
}

// unstage closes and removes the staging file. Failures are only logged.
func (s *Store[T]) unstage(ctx context.Context, signalType string, staged *stagedIndex) {
	name := staged.file.Name()
	_ = staged.file.Close()
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.opts.logger.ErrorContext(ctx, "staging file not removed",
			"signal_type", signalType,
			"path", name,
			"error", err,
		)
	}
}

func (s *Store[T]) upload(ctx context.Context, signalType string, staged *stagedIndex) (blobstore.Handle, error) {
	var r io.Reader = staged.file
	if s.opts.rc != nil {
		r = resource.NewRateLimitedReader(ctx, r, s.opts.rc)
	}

	h, err := s.blobs.Create(ctx, r)
	if err != nil {
		return "", opError(opCommit, signalType, PhaseUpload, ErrBlobStoreUnavailable, err)
	}
	return h, nil
}

// verify checks that h is readable and holds size bytes.
func (s *Store[T]) verify(ctx context.Context, h blobstore.Handle, size int64) error {
	b, err := s.blobs.Open(ctx, h)
	if err != nil {
		return err
	}
	defer b.Close()

	if n := b.Size(); n >= 0 && n != size {
		return fmt.Errorf("blob %s holds %d bytes, staged %d", h, n, size)
	}
	return nil
}

// swap points the record at next. When the write reports an error the
// record is re-read: the write may have landed before the error surfaced.
func (s *Store[T]) swap(ctx context.Context, signalType string, prev blobstore.Handle, cp checkpoint.Checkpoint, next blobstore.Handle) (checkpoint.Record, error) {
	rec, err := s.repo.Commit(ctx, signalType, prev, cp, next)
	if err == nil {
		return rec, nil
	}

	if errors.Is(err, checkpoint.ErrConflict) {
		s.discard(ctx, signalType, next)
		return checkpoint.Record{}, opError(opCommit, signalType, PhaseSwap, ErrConcurrentCommit, err)
	}

	cur, gerr := s.repo.Get(context.WithoutCancel(ctx), signalType)
	switch {
	case gerr == nil && cur.BlobRef == next:
		return cur, nil
	case gerr == nil, errors.Is(gerr, checkpoint.ErrNotFound):
		s.discard(ctx, signalType, next)
	default:
		// Outcome unknown: the blob may be referenced, so leave it for Reconcile.
		s.opts.logger.WarnContext(ctx, "swap outcome unknown",
			"signal_type", signalType,
			"blob", next.String(),
			"error", gerr,
		)
	}
	return checkpoint.Record{}, opError(opCommit, signalType, PhaseSwap, classify(err), err)
}

// discard removes an uploaded blob that never became referenced.
func (s *Store[T]) discard(ctx context.Context, signalType string, h blobstore.Handle) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), h); err != nil {
		s.opts.logger.LogInconsistency(ctx, signalType, PhaseCleanup, h, err)
		s.opts.metricsCollector.RecordInconsistency(signalType, PhaseCleanup)
	}
}

// Load fetches and decodes the committed index for signalType.
//
// It returns ErrNotBuilt before the first commit and ErrCorruptIndex when
// the blob does not decode. When the blob is replaced by a concurrent
// commit while being opened, Load re-resolves the record and reads the new
// one.
func (s *Store[T]) Load(ctx context.Context, signalType string) (T, error) {
	if !s.opts.sharedLoads {
		return s.load(ctx, signalType)
	}

	var zero T
	// The shared read outlives any single caller; each caller stops
	// waiting on its own ctx below.
	ch := s.loads.DoChan(signalType, func() (any, error) {
		return s.load(context.WithoutCancel(ctx), signalType)
	})
	select {
	case <-ctx.Done():
		return zero, opError(opLoad, signalType, PhaseRead, ErrBlobStoreUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (s *Store[T]) load(ctx context.Context, signalType string) (index T, err error) {
	ctx, span := s.startSpan(ctx, "sigindex.Load", signalType)
	start := s.opts.now()
	var (
		h    blobstore.Handle
		size int64
	)
	defer func() {
		elapsed := s.opts.now().Sub(start)
		s.opts.metricsCollector.RecordLoad(signalType, size, elapsed, err)
		if !errors.Is(err, ErrNotBuilt) {
			s.opts.logger.LogLoad(ctx, signalType, h, size, elapsed, err)
		}
		endSpan(span, err)
	}()

	var missing blobstore.Handle
	for attempt := 1; ; attempt++ {
		rec, err := s.repo.Get(ctx, signalType)
		if errors.Is(err, checkpoint.ErrNotFound) {
			return index, opError(opLoad, signalType, PhaseLookup, ErrNotBuilt, err)
		}
		if err != nil {
			return index, opError(opLoad, signalType, PhaseLookup, classify(err), err)
		}
		if !rec.HasBlob() {
			return index, opError(opLoad, signalType, PhaseLookup, ErrNotBuilt, nil)
		}
		h = rec.BlobRef

		if h == missing {
			// The record still names a blob that is gone.
			err := fmt.Errorf("record references missing blob %s: %w", h, blobstore.ErrNotFound)
			s.opts.logger.LogInconsistency(ctx, signalType, PhaseRead, h, err)
			s.opts.metricsCollector.RecordInconsistency(signalType, PhaseRead)
			return index, opError(opLoad, signalType, PhaseRead, ErrInconsistency, err)
		}

		index, size, err = s.decode(ctx, signalType, h)
		if err == nil {
			return index, nil
		}
		if !errors.Is(err, blobstore.ErrNotFound) || attempt >= maxLoadAttempts {
			return index, err
		}
		missing = h
	}
}

func (s *Store[T]) decode(ctx context.Context, signalType string, h blobstore.Handle) (T, int64, error) {
	var zero T

	b, err := s.blobs.Open(ctx, h)
	if err != nil {
		return zero, 0, opError(opLoad, signalType, PhaseRead, classify(err), err)
	}
	defer b.Close()

	tr := &trackingReader{ctx: ctx, r: b}
	v, err := s.codec.Decode(bufio.NewReaderSize(tr, ioBufferSize))
	if err != nil {
		if tr.err != nil {
			return zero, 0, opError(opLoad, signalType, PhaseRead, classify(tr.err), tr.err)
		}
		return zero, 0, opError(opLoad, signalType, PhaseDecode, ErrCorruptIndex, err)
	}
	return v, b.Size(), nil
}

// trackingReader remembers the first read failure so transport errors are
// not reported as corrupt data.
type trackingReader struct {
	ctx context.Context
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	if err := t.ctx.Err(); err != nil {
		t.err = err
		return 0, err
	}
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

// Liveness reports whether the blob referenced by signalType's record is
// present. It returns false without error when nothing was committed yet.
// A record naming a missing blob is logged as an inconsistency. Liveness
// never mutates state.
func (s *Store[T]) Liveness(ctx context.Context, signalType string) (live bool, err error) {
	ctx, span := s.startSpan(ctx, "sigindex.Liveness", signalType)
	defer func() {
		span.SetAttributes(attribute.Bool("blob.live", live))
		endSpan(span, err)
	}()

	rec, err := s.repo.Get(ctx, signalType)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, opError(opLiveness, signalType, PhaseLookup, classify(err), err)
	}
	if !rec.HasBlob() {
		return false, nil
	}

	live, err = s.BlobLive(ctx, rec.BlobRef)
	if err != nil {
		return false, opError(opLiveness, signalType, PhaseRead, ErrBlobStoreUnavailable, err)
	}
	if !live {
		s.opts.logger.LogInconsistency(ctx, signalType, PhaseRead, rec.BlobRef, blobstore.ErrNotFound)
		s.opts.metricsCollector.RecordInconsistency(signalType, PhaseRead)
	}
	return live, nil
}

// BlobLive reports whether the blob h is present, regardless of which
// record references it.
func (s *Store[T]) BlobLive(ctx context.Context, h blobstore.Handle) (bool, error) {
	if h.IsZero() {
		return false, nil
	}
	return s.blobs.Exists(ctx, h)
}

// CurrentCheckpoint returns the committed build progress of signalType.
// A missing record yields the zero checkpoint.
func (s *Store[T]) CurrentCheckpoint(ctx context.Context, signalType string) (checkpoint.Checkpoint, error) {
	rec, err := s.repo.Get(ctx, signalType)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return checkpoint.Checkpoint{}, nil
	}
	if err != nil {
		return checkpoint.Checkpoint{}, opError(opLoad, signalType, PhaseLookup, classify(err), err)
	}
	return rec.Checkpoint(), nil
}

// Enable creates an empty record for signalType. Enabling an enabled
// signal type returns the stored record.
func (s *Store[T]) Enable(ctx context.Context, signalType string) (checkpoint.Record, error) {
	if signalType == "" {
		return checkpoint.Record{}, opError(opEnable, signalType, PhaseLookup, ErrInvalidArgument, errors.New("empty signal type"))
	}
	rec, err := s.repo.Create(ctx, signalType)
	if err != nil {
		return checkpoint.Record{}, opError(opEnable, signalType, PhaseSwap, classify(err), err)
	}
	return rec, nil
}

// Disable deletes the record of signalType and hands it to the reaper.
//
// The record deletion is the operation that must succeed; a blob the reaper
// cannot remove is logged and counted but does not fail Disable. Disabling
// an unknown signal type is a no-op.
func (s *Store[T]) Disable(ctx context.Context, signalType string) (rec checkpoint.Record, err error) {
	ctx, span := s.startSpan(ctx, "sigindex.Disable", signalType)
	defer func() { endSpan(span, err) }()

	unlock, err := s.opts.locker.Lock(ctx, signalType)
	if err != nil {
		return checkpoint.Record{}, opError(opDisable, signalType, PhaseLock, ErrConcurrentCommit, err)
	}
	defer unlock()

	rec, err = s.repo.Delete(ctx, signalType)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return checkpoint.Record{}, nil
	}
	if err != nil {
		return checkpoint.Record{}, opError(opDisable, signalType, PhaseDelete, classify(err), err)
	}

	_ = s.reaper.Reap(context.WithoutCancel(ctx), rec)
	return rec, nil
}

// Records lists all checkpoint records ordered by signal type.
func (s *Store[T]) Records(ctx context.Context) ([]checkpoint.Record, error) {
	recs, err := s.repo.List(ctx)
	if err != nil {
		return nil, opError(opReconcile, "", PhaseList, classify(err), err)
	}
	return recs, nil
}

// Status is a record together with the liveness of its blob.
type Status struct {
	checkpoint.Record `yaml:",inline"`
	Live bool `json:"live" yaml:"live"`
}

// Status lists every record with its blob liveness.
func (s *Store[T]) Status(ctx context.Context) ([]Status, error) {
	recs, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(recs))
	for _, rec := range recs {
		live, err := s.BlobLive(ctx, rec.BlobRef)
		if err != nil {
			return nil, opError(opLiveness, rec.SignalType, PhaseRead, ErrBlobStoreUnavailable, err)
		}
		out = append(out, Status{Record: rec, Live: live})
	}
	return out, nil
}

func (s *Store[T]) startSpan(ctx context.Context, name, signalType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if signalType != "" {
		attrs = append(attrs, attribute.String("signal_type", signalType))
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// classifyVerify reports a blob that vanished right after upload as an
// unavailable store rather than an inconsistency.
func classifyVerify(err error) error {
	if errors.Is(err, blobstore.ErrNotFound) {
		return ErrBlobStoreUnavailable
	}
	return classify(err)
}
