package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `signal_type, signal_count, updated_to_item_id, updated_to_item_ts, last_modified, blob_ref`

// Repository implements checkpoint.Repository on the signal_index table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository on a migrated database.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRecord(row pgx.Row) (checkpoint.Record, error) {
	var (
		rec      checkpoint.Record
		modified time.Time
		blobRef  *string
	)
	if err := row.Scan(&rec.SignalType, &rec.SignalCount, &rec.UpdatedToItemID, &rec.UpdatedToItemTS, &modified, &blobRef); err != nil {
		return checkpoint.Record{}, err
	}
	rec.LastModified = modified.UTC()
	if blobRef != nil {
		rec.BlobRef = blobstore.Handle(*blobRef)
	}
	return rec, nil
}

// Get returns the record for signalType.
func (r *Repository) Get(ctx context.Context, signalType string) (checkpoint.Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM signal_index WHERE signal_type = $1`, signalType))
	if errors.Is(err, pgx.ErrNoRows) {
		return checkpoint.Record{}, fmt.Errorf("%s: %w", signalType, checkpoint.ErrNotFound)
	}
	if err != nil {
		return checkpoint.Record{}, fmt.Errorf("postgres: get %s: %w", signalType, err)
	}
	return rec, nil
}

// Create inserts an empty record unless one exists.
func (r *Repository) Create(ctx context.Context, signalType string) (checkpoint.Record, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO signal_index (signal_type) VALUES ($1) ON CONFLICT (signal_type) DO NOTHING`, signalType)
	if err != nil {
		return checkpoint.Record{}, fmt.Errorf("postgres: create %s: %w", signalType, err)
	}
	return r.Get(ctx, signalType)
}

// Commit swaps blob_ref in a single conditional statement.
func (r *Repository) Commit(ctx context.Context, signalType string, prev blobstore.Handle, cp checkpoint.Checkpoint, next blobstore.Handle) (checkpoint.Record, error) {
	var row pgx.Row
	if prev.IsZero() {
		row = r.pool.QueryRow(ctx,
			`INSERT INTO signal_index (`+recordColumns+`) VALUES ($1, $2, $3, $4, now(), $5)
			 ON CONFLICT (signal_type) DO UPDATE SET
				signal_count = EXCLUDED.signal_count,
				updated_to_item_id = EXCLUDED.updated_to_item_id,
				updated_to_item_ts = EXCLUDED.updated_to_item_ts,
				last_modified = EXCLUDED.last_modified,
				blob_ref = EXCLUDED.blob_ref
			 WHERE signal_index.blob_ref IS NULL
			 RETURNING `+recordColumns,
			signalType, cp.TotalHashCount, cp.LastItemID, cp.LastItemTimestamp, string(next))
	} else {
		row = r.pool.QueryRow(ctx,
			`UPDATE signal_index SET
				signal_count = $2,
				updated_to_item_id = $3,
				updated_to_item_ts = $4,
				last_modified = now(),
				blob_ref = $5
			 WHERE signal_type = $1 AND blob_ref = $6
			 RETURNING `+recordColumns,
			signalType, cp.TotalHashCount, cp.LastItemID, cp.LastItemTimestamp, string(next), string(prev))
	}

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return checkpoint.Record{}, fmt.Errorf("%s: %w", signalType, checkpoint.ErrConflict)
	}
	if err != nil {
		return checkpoint.Record{}, fmt.Errorf("postgres: commit %s: %w", signalType, err)
	}
	return rec, nil
}

// Delete removes the record and returns it.
func (r *Repository) Delete(ctx context.Context, signalType string) (checkpoint.Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`DELETE FROM signal_index WHERE signal_type = $1 RETURNING `+recordColumns, signalType))
	if errors.Is(err, pgx.ErrNoRows) {
		return checkpoint.Record{}, fmt.Errorf("%s: %w", signalType, checkpoint.ErrNotFound)
	}
	if err != nil {
		return checkpoint.Record{}, fmt.Errorf("postgres: delete %s: %w", signalType, err)
	}
	return rec, nil
}

// List returns all records ordered by signal type.
func (r *Repository) List(ctx context.Context) ([]checkpoint.Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM signal_index ORDER BY signal_type`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	defer rows.Close()

	var out []checkpoint.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
