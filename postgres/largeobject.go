package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/sigindex/blobstore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const commentPrefix = "sigindex created="

// LargeObjectStore implements blobstore.Store and blobstore.Lister on
// PostgreSQL large objects. Handles are large object OIDs.
type LargeObjectStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var (
	_ blobstore.Store  = (*LargeObjectStore)(nil)
	_ blobstore.Lister = (*LargeObjectStore)(nil)
)

// NewLargeObjectStore creates a store on pool.
func NewLargeObjectStore(pool *pgxpool.Pool) *LargeObjectStore {
	return &LargeObjectStore{pool: pool, now: time.Now}
}

func parseOID(h blobstore.Handle) (uint32, error) {
	oid, err := strconv.ParseUint(string(h), 10, 32)
	if err != nil || oid == 0 {
		return 0, fmt.Errorf("%w: %q", blobstore.ErrInvalidHandle, string(h))
	}
	return uint32(oid), nil
}

// Create imports r as a new large object in its own transaction.
func (s *LargeObjectStore) Create(ctx context.Context, r io.Reader) (blobstore.Handle, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	los := tx.LargeObjects()
	oid, err := los.Create(ctx, 0)
	if err != nil {
		return "", fmt.Errorf("postgres: create large object: %w", err)
	}

	obj, err := los.Open(ctx, oid, pgx.LargeObjectModeWrite)
	if err != nil {
		return "", fmt.Errorf("postgres: open large object %d: %w", oid, err)
	}
	if _, err := io.Copy(obj, r); err != nil {
		_ = obj.Close()
		return "", fmt.Errorf("postgres: write large object %d: %w", oid, err)
	}
	if err := obj.Close(); err != nil {
		return "", err
	}

	// COMMENT does not accept bind parameters; both values are generated here.
	comment := commentPrefix + s.now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(ctx, fmt.Sprintf("COMMENT ON LARGE OBJECT %d IS '%s'", oid, comment)); err != nil {
		return "", fmt.Errorf("postgres: stamp large object %d: %w", oid, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return blobstore.Handle(strconv.FormatUint(uint64(oid), 10)), nil
}

// Open streams the large object. The returned blob holds a read-only
// transaction until it is closed.
func (s *LargeObjectStore) Open(ctx context.Context, h blobstore.Handle) (blobstore.Blob, error) {
	oid, err := parseOID(h)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}

	los := tx.LargeObjects()
	obj, err := los.Open(ctx, oid, pgx.LargeObjectModeRead)
	if err != nil {
		_ = tx.Rollback(ctx)
		if isUndefinedObject(err) {
			return nil, fmt.Errorf("open %s: %w", h, blobstore.ErrNotFound)
		}
		return nil, err
	}

	size, err := obj.Seek(0, io.SeekEnd)
	if err == nil {
		_, err = obj.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = obj.Close()
		_ = tx.Rollback(ctx)
		return nil, err
	}

	return &largeObjectBlob{obj: obj, tx: tx, size: size}, nil
}

// Exists checks pg_largeobject_metadata.
func (s *LargeObjectStore) Exists(ctx context.Context, h blobstore.Handle) (bool, error) {
	oid, err := parseOID(h)
	if err != nil {
		return false, err
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_largeobject_metadata WHERE oid = $1)`, oid).Scan(&exists)
	return exists, err
}

// Delete unlinks the large object if it exists.
func (s *LargeObjectStore) Delete(ctx context.Context, h blobstore.Handle) error {
	oid, err := parseOID(h)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`SELECT lo_unlink(oid) FROM pg_largeobject_metadata WHERE oid = $1`, oid)
	if err != nil && !isUndefinedObject(err) {
		return fmt.Errorf("postgres: unlink %s: %w", h, err)
	}
	return nil
}

// List returns the large objects created by this package. Size is not
// reported because pg_largeobject is readable by superusers only.
func (s *LargeObjectStore) List(ctx context.Context) ([]blobstore.ObjectInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT oid, obj_description(oid, 'pg_largeobject')
		   FROM pg_largeobject_metadata
		  WHERE obj_description(oid, 'pg_largeobject') LIKE $1
		  ORDER BY oid`, commentPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("postgres: list large objects: %w", err)
	}
	defer rows.Close()

	var infos []blobstore.ObjectInfo
	for rows.Next() {
		var (
			oid     uint32
			comment string
		)
		if err := rows.Scan(&oid, &comment); err != nil {
			return nil, err
		}
		created, _ := time.Parse(time.RFC3339Nano, strings.TrimPrefix(comment, commentPrefix))
		infos = append(infos, blobstore.ObjectInfo{
			Handle:  blobstore.Handle(strconv.FormatUint(uint64(oid), 10)),
			Created: created,
		})
	}
	return infos, rows.Err()
}

type largeObjectBlob struct {
	obj  *pgx.LargeObject
	tx   pgx.Tx
	size int64
}

func (b *largeObjectBlob) Read(p []byte) (int, error) {
	return b.obj.Read(p)
}

func (b *largeObjectBlob) Size() int64 {
	return b.size
}

func (b *largeObjectBlob) Close() error {
	closeErr := b.obj.Close()
	// Read-only: rolling back releases the snapshot without side effects.
	rbErr := b.tx.Rollback(context.Background())
	if errors.Is(rbErr, pgx.ErrTxClosed) {
		rbErr = nil
	}
	return errors.Join(closeErr, rbErr)
}
