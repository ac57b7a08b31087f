package sigindex

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
)

// DefaultReconcileMinAge protects uploads of in-flight commits from being
// swept before their swap lands.
const DefaultReconcileMinAge = time.Hour

// ReconcileOptions tunes a reconciliation pass.
type ReconcileOptions struct {
	// MinAge skips blobs created less than MinAge ago. Blobs without a
	// creation time are never deleted. Zero means DefaultReconcileMinAge;
	// negative disables the check.
	MinAge time.Duration

	// DryRun reports orphans without deleting them.
	DryRun bool

	// Concurrency bounds parallel blob store calls. Defaults to 4.
	Concurrency int

	// DeletesPerSecond throttles deletions. Zero means unlimited.
	DeletesPerSecond float64
}

// ReconcileReport is the outcome of a reconciliation pass.
type ReconcileReport struct {
	Scanned        int                    `json:"scanned" yaml:"scanned"`
	Referenced     int                    `json:"referenced" yaml:"referenced"`
	Orphans        []blobstore.ObjectInfo `json:"orphans,omitempty" yaml:"orphans,omitempty"`
	Skipped        []blobstore.ObjectInfo `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Deleted        []blobstore.Handle     `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	Failed         []blobstore.Handle     `json:"failed,omitempty" yaml:"failed,omitempty"`
	Dangling       []checkpoint.Record    `json:"dangling,omitempty" yaml:"dangling,omitempty"`
	ReclaimedBytes int64                  `json:"reclaimed_bytes" yaml:"reclaimed_bytes"`
	DryRun         bool                   `json:"dry_run" yaml:"dry_run"`
}

// Reconcile sweeps blobs no record references and reports records whose
// blob is missing.
//
// Blobs are listed before records, so a blob committed during the pass is
// seen as referenced. Orphans younger than MinAge are skipped because they
// may belong to a commit that has uploaded but not yet swapped. The blob
// store must implement blobstore.Lister.
func (s *Store[T]) Reconcile(ctx context.Context, ro ReconcileOptions) (report *ReconcileReport, err error) {
	ctx, span := s.startSpan(ctx, "sigindex.Reconcile", "", attribute.Bool("dry_run", ro.DryRun))
	start := s.opts.now()
	report = &ReconcileReport{DryRun: ro.DryRun}
	defer func() {
		elapsed := s.opts.now().Sub(start)
		s.opts.metricsCollector.RecordReconcile(len(report.Orphans), len(report.Deleted), elapsed, err)
		s.opts.logger.LogReconcile(ctx, report, elapsed, err)
		span.SetAttributes(
			attribute.Int("reconcile.orphans", len(report.Orphans)),
			attribute.Int("reconcile.deleted", len(report.Deleted)),
		)
		endSpan(span, err)
	}()

	if ro.MinAge == 0 {
		ro.MinAge = DefaultReconcileMinAge
	}
	if ro.Concurrency <= 0 {
		ro.Concurrency = 4
	}

	lister, ok := s.blobs.(blobstore.Lister)
	if !ok {
		return report, opError(opReconcile, "", PhaseList, ErrInvalidArgument, blobstore.ErrListUnsupported)
	}

	blobs, err := lister.List(ctx)
	if err != nil {
		return report, opError(opReconcile, "", PhaseList, classify(err), err)
	}
	report.Scanned = len(blobs)

	referenced, recs, err := s.referenced(ctx)
	if err != nil {
		return report, err
	}

	listed := make(map[blobstore.Handle]struct{}, len(blobs))
	now := s.opts.now()
	var candidates []blobstore.ObjectInfo
	for _, b := range blobs {
		listed[b.Handle] = struct{}{}
		if _, ok := referenced[b.Handle]; ok {
			report.Referenced++
			continue
		}
		report.Orphans = append(report.Orphans, b)
		if ro.MinAge > 0 && (b.Created.IsZero() || now.Sub(b.Created) < ro.MinAge) {
			report.Skipped = append(report.Skipped, b)
			continue
		}
		candidates = append(candidates, b)
	}

	if report.Dangling, err = s.dangling(ctx, recs, listed, ro.Concurrency); err != nil {
		return report, err
	}

	if ro.DryRun || len(candidates) == 0 {
		return report, nil
	}

	// A commit may have swapped onto a candidate since the first listing.
	referenced, _, err = s.referenced(ctx)
	if err != nil {
		return report, err
	}

	return report, s.sweep(ctx, report, candidates, referenced, ro)
}

func (s *Store[T]) referenced(ctx context.Context) (map[blobstore.Handle]struct{}, []checkpoint.Record, error) {
	recs, err := s.repo.List(ctx)
	if err != nil {
		return nil, nil, opError(opReconcile, "", PhaseList, classify(err), err)
	}
	refs := make(map[blobstore.Handle]struct{}, len(recs))
	for _, rec := range recs {
		if rec.HasBlob() {
			refs[rec.BlobRef] = struct{}{}
		}
	}
	return refs, recs, nil
}

// dangling returns records whose blob was neither listed nor exists now.
func (s *Store[T]) dangling(ctx context.Context, recs []checkpoint.Record, listed map[blobstore.Handle]struct{}, limit int) ([]checkpoint.Record, error) {
	var (
		mu  sync.Mutex
		out []checkpoint.Record
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, rec := range recs {
		if !rec.HasBlob() {
			continue
		}
		if _, ok := listed[rec.BlobRef]; ok {
			continue
		}
		g.Go(func() error {
			live, err := s.blobs.Exists(gctx, rec.BlobRef)
			if err != nil {
				return opError(opReconcile, rec.SignalType, PhaseRead, classify(err), err)
			}
			if live {
				return nil
			}
			s.opts.logger.LogInconsistency(gctx, rec.SignalType, PhaseList, rec.BlobRef, blobstore.ErrNotFound)
			s.opts.metricsCollector.RecordInconsistency(rec.SignalType, PhaseList)
			mu.Lock()
			out = append(out, rec)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SignalType < out[j].SignalType })
	return out, nil
}

// sweep deletes unreferenced candidates. Individual delete failures are
// recorded in the report and do not abort the pass.
func (s *Store[T]) sweep(ctx context.Context, report *ReconcileReport, candidates []blobstore.ObjectInfo, referenced map[blobstore.Handle]struct{}, ro ReconcileOptions) error {
	var limiter *rate.Limiter
	if ro.DeletesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ro.DeletesPerSecond), 1)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ro.Concurrency)
	for _, b := range candidates {
		if _, ok := referenced[b.Handle]; ok {
			continue
		}
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			}
			err := s.blobs.Delete(gctx, b.Handle)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				s.opts.logger.LogInconsistency(gctx, "", PhaseDelete, b.Handle, err)
				report.Failed = append(report.Failed, b.Handle)
				return nil
			}
			report.Deleted = append(report.Deleted, b.Handle)
			report.ReclaimedBytes += b.Size
			return nil
		})
	}
	err := g.Wait()

	sort.Slice(report.Deleted, func(i, j int) bool { return report.Deleted[i] < report.Deleted[j] })
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i] < report.Failed[j] })

	if err != nil {
		return opError(opReconcile, "", PhaseDelete, ErrBlobStoreUnavailable, err)
	}
	return nil
}
