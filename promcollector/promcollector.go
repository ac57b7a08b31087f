// Package promcollector exports sigindex metrics to Prometheus.
package promcollector

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/sigindex"
)

const namespace = "sigindex"

// Collector implements sigindex.MetricsCollector.
type Collector struct {
	opLatency       *prometheus.HistogramVec
	ops             *prometheus.CounterVec
	indexBytes      *prometheus.GaugeVec
	inconsistencies *prometheus.CounterVec
	reaps           *prometheus.CounterVec
	orphans         *prometheus.CounterVec
}

var _ sigindex.MetricsCollector = (*Collector)(nil)

// New creates a Collector and registers it with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of commits, loads and reconciliation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"op", "status"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations per signal type.",
		}, []string{"op", "signal_type", "status"}),
		indexBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_size_bytes",
			Help:      "Serialized size of the last committed index.",
		}, []string{"signal_type"}),
		inconsistencies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inconsistencies_total",
			Help:      "Recoverable inconsistencies such as missing or leaked blobs.",
		}, []string{"signal_type", "phase"}),
		reaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaps_total",
			Help:      "Blobs handled by the reaper after record deletion.",
		}, []string{"signal_type", "status"}),
		orphans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_blobs_total",
			Help:      "Orphaned blobs found and deleted by reconciliation.",
		}, []string{"action"}),
	}

	var err error
	if c.opLatency, err = register(reg, c.opLatency); err != nil {
		return nil, err
	}
	if c.ops, err = register(reg, c.ops); err != nil {
		return nil, err
	}
	if c.indexBytes, err = register(reg, c.indexBytes); err != nil {
		return nil, err
	}
	if c.inconsistencies, err = register(reg, c.inconsistencies); err != nil {
		return nil, err
	}
	if c.reaps, err = register(reg, c.reaps); err != nil {
		return nil, err
	}
	if c.orphans, err = register(reg, c.orphans); err != nil {
		return nil, err
	}
	return c, nil
}

// register returns the already registered collector when reg knows an
// identical one, so several stores can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, col C) (C, error) {
	err := reg.Register(col)
	if err == nil {
		return col, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return col, err
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordCommit implements sigindex.MetricsCollector.
func (c *Collector) RecordCommit(signalType string, size int64, d time.Duration, err error) {
	c.opLatency.WithLabelValues("commit", status(err)).Observe(d.Seconds())
	c.ops.WithLabelValues("commit", signalType, status(err)).Inc()
	if err == nil {
		c.indexBytes.WithLabelValues(signalType).Set(float64(size))
	}
}

// RecordLoad implements sigindex.MetricsCollector.
func (c *Collector) RecordLoad(signalType string, _ int64, d time.Duration, err error) {
	c.opLatency.WithLabelValues("load", status(err)).Observe(d.Seconds())
	c.ops.WithLabelValues("load", signalType, status(err)).Inc()
}

// RecordInconsistency implements sigindex.MetricsCollector.
func (c *Collector) RecordInconsistency(signalType string, phase sigindex.Phase) {
	c.inconsistencies.WithLabelValues(signalType, string(phase)).Inc()
}

// RecordReap implements sigindex.MetricsCollector.
func (c *Collector) RecordReap(signalType string, err error) {
	c.reaps.WithLabelValues(signalType, status(err)).Inc()
}

// RecordReconcile implements sigindex.MetricsCollector.
func (c *Collector) RecordReconcile(orphans, deleted int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("reconcile", status(err)).Observe(d.Seconds())
	c.orphans.WithLabelValues("found").Add(float64(orphans))
	c.orphans.WithLabelValues("deleted").Add(float64(deleted))
}
