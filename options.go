package sigindex

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hupe1980/sigindex/lock"
	"github.com/hupe1980/sigindex/resource"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	tracerProvider   trace.TracerProvider
	locker           lock.Locker
	rc               *resource.Controller
	stagingDir       string // os.TempDir() if empty
	sharedLoads      bool
	now              func() time.Time
}

// Option configures a Store.
type Option func(*options)

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := sigindex.NewJSONLogger(slog.LevelInfo)
//	st, _ := sigindex.New(blobs, repo, codec, sigindex.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector.
//
// Example with basic metrics:
//
//	metrics := &sigindex.BasicMetricsCollector{}
//	st, _ := sigindex.New(blobs, repo, codec, sigindex.WithMetricsCollector(metrics))
//	fmt.Println(metrics.GetStats().Inconsistencies)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithTracerProvider enables OpenTelemetry spans for Commit, Load,
// Liveness, Disable and Reconcile.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp == nil {
			tp = noop.NewTracerProvider()
		}
		o.tracerProvider = tp
	}
}

// WithLocker sets the lock that serializes commits per signal type.
// Defaults to an in-process keyed mutex; use lock.FileLocker or
// postgres.AdvisoryLocker when several processes commit.
func WithLocker(l lock.Locker) Option {
	return func(o *options) {
		if l == nil {
			l = lock.NewKeyedMutex()
		}
		o.locker = l
	}
}

// WithResourceController bounds concurrent commits and upload throughput.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithStagingDir sets the directory for staging files. It should be on a
// local disk with room for the largest serialized index.
func WithStagingDir(dir string) Option {
	return func(o *options) {
		o.stagingDir = dir
	}
}

// WithSharedLoads coalesces concurrent loads of the same signal type into
// one blob read. Callers then share the returned index and must not
// mutate it.
func WithSharedLoads(enabled bool) Option {
	return func(o *options) {
		o.sharedLoads = enabled
	}
}

// WithClock replaces the clock used for timings and reconciliation ages.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now == nil {
			now = time.Now
		}
		o.now = now
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		tracerProvider:   noop.NewTracerProvider(),
		now:              time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.locker == nil {
		o.locker = lock.NewKeyedMutex()
	}
	return o
}
