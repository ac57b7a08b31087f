package sigindex

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; package
// promcollector provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordCommit is called after each commit. size is the serialized
	// index size in bytes, zero when serialization did not finish.
	RecordCommit(signalType string, size int64, duration time.Duration, err error)

	// RecordLoad is called after each load.
	RecordLoad(signalType string, size int64, duration time.Duration, err error)

	// RecordInconsistency is called for every recoverable inconsistency,
	// including reaper failures.
	RecordInconsistency(signalType string, phase Phase)

	// RecordReap is called after the reaper handled a deleted record.
	RecordReap(signalType string, err error)

	// RecordReconcile is called after a reconciliation pass.
	RecordReconcile(orphans, deleted int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCommit(string, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordLoad(string, int64, time.Duration, error)   {}
func (NoopMetricsCollector) RecordInconsistency(string, Phase)                {}
func (NoopMetricsCollector) RecordReap(string, error)                         {}
func (NoopMetricsCollector) RecordReconcile(int, int, time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests.
type BasicMetricsCollector struct {
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitBytes      atomic.Int64
	CommitTotalNanos atomic.Int64
	LoadCount        atomic.Int64
	LoadErrors       atomic.Int64
	LoadTotalNanos   atomic.Int64
	Inconsistencies  atomic.Int64
	ReapCount        atomic.Int64
	ReapErrors       atomic.Int64
	ReconcileCount   atomic.Int64
	ReconcileErrors  atomic.Int64
	OrphansFound     atomic.Int64
	OrphansDeleted   atomic.Int64
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(_ string, size int64, duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.CommitBytes.Add(size)
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(_ string, _ int64, duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// RecordInconsistency implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInconsistency(string, Phase) {
	b.Inconsistencies.Add(1)
}

// RecordReap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReap(_ string, err error) {
	b.ReapCount.Add(1)
	if err != nil {
		b.ReapErrors.Add(1)
	}
}

// RecordReconcile implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReconcile(orphans, deleted int, _ time.Duration, err error) {
	b.ReconcileCount.Add(1)
	b.OrphansFound.Add(int64(orphans))
	b.OrphansDeleted.Add(int64(deleted))
	if err != nil {
		b.ReconcileErrors.Add(1)
	}
}

// BasicMetricsStats is a point-in-time snapshot of BasicMetricsCollector.
type BasicMetricsStats struct {
	CommitCount     int64
	CommitErrors    int64
	CommitBytes     int64
	CommitAvgNanos  int64
	LoadCount       int64
	LoadErrors      int64
	LoadAvgNanos    int64
	Inconsistencies int64
	ReapCount       int64
	ReapErrors      int64
	ReconcileCount  int64
	ReconcileErrors int64
	OrphansFound    int64
	OrphansDeleted  int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		CommitCount:     b.CommitCount.Load(),
		CommitErrors:    b.CommitErrors.Load(),
		CommitBytes:     b.CommitBytes.Load(),
		CommitAvgNanos:  avg(b.CommitTotalNanos.Load(), b.CommitCount.Load()),
		LoadCount:       b.LoadCount.Load(),
		LoadErrors:      b.LoadErrors.Load(),
		LoadAvgNanos:    avg(b.LoadTotalNanos.Load(), b.LoadCount.Load()),
		Inconsistencies: b.Inconsistencies.Load(),
		ReapCount:       b.ReapCount.Load(),
		ReapErrors:      b.ReapErrors.Load(),
		ReconcileCount:  b.ReconcileCount.Load(),
		ReconcileErrors: b.ReconcileErrors.Load(),
		OrphansFound:    b.OrphansFound.Load(),
		OrphansDeleted:  b.OrphansDeleted.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}
