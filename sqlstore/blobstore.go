package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/hupe1980/sigindex/blobstore"
)

// BlobStore implements blobstore.Store and blobstore.Lister on the
// signal_index_blob table. Blobs are buffered in memory on write and read,
// so it suits indexes of moderate size.
type BlobStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewBlobStore creates a blob store on a migrated database.
func NewBlobStore(db *sql.DB) *BlobStore {
	return &BlobStore{db: db, now: time.Now}
}

func parseHandle(h blobstore.Handle) (int64, error) {
	id, err := strconv.ParseInt(string(h), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", blobstore.ErrInvalidHandle, string(h))
	}
	return id, nil
}

// Create inserts r as a new row.
func (s *BlobStore) Create(ctx context.Context, r io.Reader) (blobstore.Handle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO signal_index_blob (data, size, created_at) VALUES (?, ?, ?)`,
		data, len(data), s.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("sqlstore: insert blob: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	return blobstore.Handle(strconv.FormatInt(id, 10)), nil
}

// Open reads the blob into memory.
func (s *BlobStore) Open(ctx context.Context, h blobstore.Handle) (blobstore.Blob, error) {
	id, err := parseHandle(h)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.QueryRowContext(ctx, `SELECT data FROM signal_index_blob WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open %s: %w", h, blobstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: read blob %s: %w", h, err)
	}
	return blobstore.NopBlob(bytes.NewReader(data), int64(len(data))), nil
}

// Exists reports whether the row is present.
func (s *BlobStore) Exists(ctx context.Context, h blobstore.Handle) (bool, error) {
	id, err := parseHandle(h)
	if err != nil {
		return false, err
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM signal_index_blob WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlstore: probe blob %s: %w", h, err)
	}
	return true, nil
}

// Delete removes the row.
func (s *BlobStore) Delete(ctx context.Context, h blobstore.Handle) error {
	id, err := parseHandle(h)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM signal_index_blob WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlstore: delete blob %s: %w", h, err)
	}
	return nil
}

// List returns metadata for every stored blob.
func (s *BlobStore) List(ctx context.Context) ([]blobstore.ObjectInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, size, created_at FROM signal_index_blob ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list blobs: %w", err)
	}
	defer rows.Close()

	var infos []blobstore.ObjectInfo
	for rows.Next() {
		var id, size, created int64
		if err := rows.Scan(&id, &size, &created); err != nil {
			return nil, err
		}
		infos = append(infos, blobstore.ObjectInfo{
			Handle:  blobstore.Handle(strconv.FormatInt(id, 10)),
			Size:    size,
			Created: time.Unix(0, created).UTC(),
		})
	}
	return infos, rows.Err()
}
