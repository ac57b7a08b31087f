package sigindex

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/sigindex/blobstore"
)

// Logger wraps slog.Logger with sigindex-specific context.
// Every record emitted by the operation helpers carries signal_type.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithSignalType returns a logger tagged with the signal type.
func (l *Logger) WithSignalType(signalType string) *Logger {
	return &Logger{
		Logger: l.Logger.With("signal_type", signalType),
	}
}

// LogStaged logs the end of serialization to the staging file.
func (l *Logger) LogStaged(ctx context.Context, signalType, path string, entries, size int64, elapsed time.Duration) {
	l.DebugContext(ctx, "index staged",
		"signal_type", signalType,
		"path", path,
		"entries", entries,
		"size", humanize.IBytes(uint64(size)),
		"elapsed", elapsed.Round(time.Millisecond).String(),
	)
}

// LogCommit logs a commit operation.
func (l *Logger) LogCommit(ctx context.Context, signalType string, h blobstore.Handle, size int64, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"signal_type", signalType,
			"elapsed", elapsed.Round(time.Millisecond).String(),
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "index committed",
		"signal_type", signalType,
		"blob", h.String(),
		"size", humanize.IBytes(uint64(size)),
		"elapsed", elapsed.Round(time.Millisecond).String(),
	)
}

// LogLoad logs a load operation.
func (l *Logger) LogLoad(ctx context.Context, signalType string, h blobstore.Handle, size int64, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"signal_type", signalType,
			"blob", h.String(),
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "index loaded",
		"signal_type", signalType,
		"blob", h.String(),
		"size", humanize.IBytes(uint64(size)),
		"elapsed", elapsed.Round(time.Millisecond).String(),
	)
}

// LogInconsistency logs a recoverable inconsistency. These are never fatal
// but always worth a look.
func (l *Logger) LogInconsistency(ctx context.Context, signalType string, phase Phase, h blobstore.Handle, err error) {
	l.WarnContext(ctx, "recoverable inconsistency",
		"signal_type", signalType,
		"phase", string(phase),
		"blob", h.String(),
		"error", err,
	)
}

// LogReap logs the outcome of reclaiming a deleted record's blob.
func (l *Logger) LogReap(ctx context.Context, signalType string, h blobstore.Handle, err error) {
	if err != nil {
		l.WarnContext(ctx, "blob not reclaimed",
			"signal_type", signalType,
			"blob", h.String(),
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "blob reclaimed",
		"signal_type", signalType,
		"blob", h.String(),
	)
}

// LogReconcile logs a reconciliation pass.
func (l *Logger) LogReconcile(ctx context.Context, r *ReconcileReport, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "reconcile failed",
			"elapsed", elapsed.Round(time.Millisecond).String(),
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "reconcile completed",
		"blobs", r.Scanned,
		"orphans", len(r.Orphans),
		"deleted", len(r.Deleted),
		"reclaimed", humanize.IBytes(uint64(r.ReclaimedBytes)),
		"dangling", len(r.Dangling),
		"dry_run", r.DryRun,
		"elapsed", elapsed.Round(time.Millisecond).String(),
	)
}
