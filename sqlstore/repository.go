package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
)

const recordColumns = `signal_type, signal_count, updated_to_item_id, updated_to_item_ts, last_modified, blob_ref`

// Repository implements checkpoint.Repository on the signal_index table.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repository on a migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (checkpoint.Record, error) {
	var (
		rec     checkpoint.Record
		nanos   int64
		blobRef sql.NullString
	)
	if err := row.Scan(&rec.SignalType, &rec.SignalCount, &rec.UpdatedToItemID, &rec.UpdatedToItemTS, &nanos, &blobRef); err != nil {
		return checkpoint.Record{}, err
	}
	rec.LastModified = time.Unix(0, nanos).UTC()
	if blobRef.Valid {
		rec.BlobRef = blobstore.Handle(blobRef.String)
	}
	return rec, nil
}

// Get returns the record for signalType.
func (r *Repository) Get(ctx context.Context, signalType string) (checkpoint.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM signal_index WHERE signal_type = ?`, signalType)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return checkpoint.Record{}, fmt.Errorf("%s: %w", signalType, checkpoint.ErrNotFound)
	}
	if err != nil {
		return checkpoint.Record{}, fmt.Errorf("sqlstore: get %s: %w", signalType, err)
	}
	return rec, nil
}

// Create inserts an empty record unless one exists.
func (r *Repository) Create(ctx context.Context, signalType string) (checkpoint.Record, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO signal_index (signal_type, last_modified) VALUES (?, ?)
		 ON CONFLICT(signal_type) DO NOTHING`,
		signalType, r.now().UnixNano())
	if err != nil {
		return checkpoint.Record{}, fmt.Errorf("sqlstore: create %s: %w", signalType, err)
	}
	return r.Get(ctx, signalType)
}

// Commit swaps blob_ref in a single conditional statement.
func (r *Repository) Commit(ctx context.Context, signalType string, prev blobstore.Handle, cp checkpoint.Checkpoint, next blobstore.Handle) (checkpoint.Record, error) {
	now := r.now().UnixNano()

	var row *sql.Row
	if prev.IsZero() {
		row = r.db.QueryRowContext(ctx,
			`INSERT INTO signal_index (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(signal_type) DO UPDATE SET
				signal_count = excluded.signal_count,
				updated_to_item_id = excluded.updated_to_item_id,
				updated_to_item_ts = excluded.updated_to_item_ts,
				last_modified = excluded.last_modified,
				blob_ref = excluded.blob_ref
			 WHERE signal_index.blob_ref IS NULL
			 RETURNING `+recordColumns,
			signalType, cp.TotalHashCount, cp.LastItemID, cp.LastItemTimestamp, now, string(next))
	} else {
		row = r.db.QueryRowContext(ctx,
			`UPDATE signal_index SET
				signal_count = ?,
				updated_to_item_id = ?,
				updated_to_item_ts = ?,
				last_modified = ?,
				blob_ref = ?
			 WHERE signal_type = ? AND blob_ref = ?
			 RETURNING `+recordColumns,
			cp.TotalHashCount, cp.LastItemID, cp.LastItemTimestamp, now, string(next), signalType, string(prev))
	}

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return checkpoint.Record{}, fmt.Errorf("%s: %w", signalType, checkpoint.ErrConflict)
	}
	if err != nil {
		return checkpoint.Record{}, fmt.Errorf("sqlstore: commit %s: %w", signalType, err)
	}
	return rec, nil
}

// Delete removes the record and returns it.
func (r *Repository) Delete(ctx context.Context, signalType string) (checkpoint.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`DELETE FROM signal_index WHERE signal_type = ? RETURNING `+recordColumns, signalType)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return checkpoint.Record{}, fmt.Errorf("%s: %w", signalType, checkpoint.ErrNotFound)
	}
	if err != nil {
		return checkpoint.Record{}, fmt.Errorf("sqlstore: delete %s: %w", signalType, err)
	}
	return rec, nil
}

// List returns all records ordered by signal type.
func (r *Repository) List(ctx context.Context) ([]checkpoint.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM signal_index ORDER BY signal_type`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list: %w", err)
	}
	defer rows.Close()

	var out []checkpoint.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: list: %w", err)
	}
	return out, nil
}
