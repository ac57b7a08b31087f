package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS signal_index (
	signal_type        TEXT PRIMARY KEY,
	signal_count       BIGINT NOT NULL DEFAULT 0,
	updated_to_item_id BIGINT NOT NULL DEFAULT 0,
	updated_to_item_ts BIGINT NOT NULL DEFAULT 0,
	last_modified      TIMESTAMPTZ NOT NULL DEFAULT now(),
	blob_ref           TEXT
)`

// Migrate creates the checkpoint table if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// undefinedObject is SQLSTATE 42704, raised when a large object is missing.
const undefinedObject = "42704"

func isUndefinedObject(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedObject
}
