package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for memory held by blob caches.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxConcurrentCommits is the maximum number of commits that may
	// serialize and upload at the same time, across all signal types.
	// If 0, defaults to 1.
	MaxConcurrentCommits int64

	// UploadBytesPerSec caps the throughput of blob uploads.
	// If 0, unlimited.
	UploadBytesPerSec int64
}

// Controller manages resources shared by commit workers and readers.
// A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Commit workers
	commitSem *semaphore.Weighted

	// IO
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentCommits <= 0 {
		cfg.MaxConcurrentCommits = 1
	}

	c := &Controller{
		cfg:       cfg,
		commitSem: semaphore.NewWeighted(cfg.MaxConcurrentCommits),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.UploadBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.UploadBytesPerSec), int(cfg.UploadBytesPerSec))
	}

	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// TryAcquireMemory attempts to reserve memory without blocking.
// Returns true if acquired, false if limit would be exceeded.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil {
		return true
	}
	if bytes <= 0 {
		return true
	}

	if c.memSem != nil {
		if !c.memSem.TryAcquire(bytes) {
			return false
		}
	}

	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil {
		return
	}
	if bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireCommit reserves a commit worker slot.
// Blocks until a slot is free or ctx is canceled.
func (c *Controller) AcquireCommit(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.commitSem.Acquire(ctx, 1)
}

// TryAcquireCommit reserves a commit worker slot without blocking.
func (c *Controller) TryAcquireCommit() bool {
	if c == nil {
		return true
	}
	return c.commitSem.TryAcquire(1)
}

// ReleaseCommit releases a commit worker slot.
func (c *Controller) ReleaseCommit() {
	if c == nil {
		return
	}
	c.commitSem.Release(1)
}

// AcquireIO waits until the upload limit allows the specified number of bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	// WaitN rejects requests above the burst size; split them.
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
