package lock

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// errWouldBlock is returned by tryLock when another process holds the lock.
var errWouldBlock = errors.New("lock: would block")

// DefaultPollInterval is how often FileLocker retries a contended lock.
const DefaultPollInterval = 50 * time.Millisecond

// FileLocker implements Locker with advisory file locks in dir.
// Lock files are created on demand and never removed.
type FileLocker struct {
	dir   string
	poll  time.Duration
	local *KeyedMutex
}

// NewFileLocker creates a locker keeping lock files in dir.
func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lock: create dir: %w", err)
	}
	return &FileLocker{
		dir:   dir,
		poll:  DefaultPollInterval,
		local: NewKeyedMutex(),
	}, nil
}

// SetPollInterval changes the retry interval for contended locks.
func (l *FileLocker) SetPollInterval(d time.Duration) {
	if d > 0 {
		l.poll = d
	}
}

func (l *FileLocker) path(key string) string {
	return filepath.Join(l.dir, "sigindex-"+url.PathEscape(key)+".lock")
}

// Lock implements Locker. Goroutines of the same process queue on an
// in-process mutex first, so only one of them polls the file.
func (l *FileLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(l.path(key), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("lock: open %s: %w", key, err)
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		err := tryLock(f)
		if err == nil {
			break
		}
		if !errors.Is(err, errWouldBlock) {
			f.Close()
			unlockLocal()
			return nil, fmt.Errorf("lock: %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			unlockLocal()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		_ = unlock(f)
		f.Close()
		unlockLocal()
	}, nil
}
