// Package badgerstore implements checkpoint.Repository on BadgerDB.
//
// Records are stored as JSON values under "checkpoint/<signal_type>".
// Badger's optimistic transactions detect concurrent read-modify-write
// cycles, which gives Commit its compare-and-set guarantee inside one
// process. Use it for single-host deployments that want an embedded store.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
)

const keyPrefix = "checkpoint/"

// Config configures the embedded database.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps all data in memory. Intended for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives Badger's internal log output. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns a durable configuration for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Repository implements checkpoint.Repository on a Badger database.
type Repository struct {
	db    *badger.DB
	owned bool
	now   func() time.Time
}

// Open opens the database described by cfg. Close releases it.
func Open(cfg Config) (*Repository, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerstore: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badgerstore: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}

	r := New(db)
	r.owned = true
	return r, nil
}

// New wraps an already open database. The caller keeps ownership.
func New(db *badger.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Close closes the database if Open created it.
func (r *Repository) Close() error {
	if !r.owned {
		return nil
	}
	return r.db.Close()
}

func recordKey(signalType string) []byte {
	return []byte(keyPrefix + signalType)
}

func readRecord(txn *badger.Txn, signalType string) (checkpoint.Record, error) {
	item, err := txn.Get(recordKey(signalType))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return checkpoint.Record{}, fmt.Errorf("%s: %w", signalType, checkpoint.ErrNotFound)
	}
	if err != nil {
		return checkpoint.Record{}, err
	}

	var rec checkpoint.Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func writeRecord(txn *badger.Txn, rec checkpoint.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(recordKey(rec.SignalType), data)
}

// update runs fn in a read-write transaction and maps Badger's optimistic
// conflict onto checkpoint.ErrConflict.
func (r *Repository) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("badgerstore: %w", checkpoint.ErrConflict)
	}
	return err
}

// Get returns the record for signalType.
func (r *Repository) Get(ctx context.Context, signalType string) (checkpoint.Record, error) {
	if err := ctx.Err(); err != nil {
		return checkpoint.Record{}, err
	}

	var rec checkpoint.Record
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, signalType)
		return err
	})
	return rec, err
}

// Create inserts an empty record unless one exists.
func (r *Repository) Create(ctx context.Context, signalType string) (checkpoint.Record, error) {
	var rec checkpoint.Record
	err := r.update(ctx, func(txn *badger.Txn) error {
		existing, err := readRecord(txn, signalType)
		if err == nil {
			rec = existing
			return nil
		}
		if !errors.Is(err, checkpoint.ErrNotFound) {
			return err
		}
		rec = checkpoint.Record{SignalType: signalType, LastModified: r.now().UTC()}
		return writeRecord(txn, rec)
	})
	if errors.Is(err, checkpoint.ErrConflict) {
		// Lost a race against another creator; the record exists now.
		return r.Get(ctx, signalType)
	}
	return rec, err
}

// Commit swaps the blob reference if it still equals prev.
func (r *Repository) Commit(ctx context.Context, signalType string, prev blobstore.Handle, cp checkpoint.Checkpoint, next blobstore.Handle) (checkpoint.Record, error) {
	var rec checkpoint.Record
	err := r.update(ctx, func(txn *badger.Txn) error {
		current, err := readRecord(txn, signalType)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
			if !prev.IsZero() {
				return fmt.Errorf("%s: %w", signalType, checkpoint.ErrConflict)
			}
			current = checkpoint.Record{SignalType: signalType}
		case err != nil:
			return err
		case current.BlobRef != prev:
			return fmt.Errorf("%s: expected %q, found %q: %w", signalType, prev, current.BlobRef, checkpoint.ErrConflict)
		}

		current.Apply(cp, next, r.now().UTC())
		rec = current
		return writeRecord(txn, rec)
	})
	return rec, err
}

// Delete removes the record and returns it.
func (r *Repository) Delete(ctx context.Context, signalType string) (checkpoint.Record, error) {
	var rec checkpoint.Record
	err := r.update(ctx, func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, signalType)
		if err != nil {
			return err
		}
		return txn.Delete(recordKey(signalType))
	})
	return rec, err
}

// List returns all records ordered by signal type.
func (r *Repository) List(ctx context.Context) ([]checkpoint.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []checkpoint.Record
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec checkpoint.Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("badgerstore: decode %s: %w", strings.TrimPrefix(string(item.Key()), keyPrefix), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SignalType < out[j].SignalType })
	return out, nil
}
