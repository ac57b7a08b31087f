package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS signal_index (
	signal_type        TEXT PRIMARY KEY,
	signal_count       INTEGER NOT NULL DEFAULT 0,
	updated_to_item_id INTEGER NOT NULL DEFAULT 0,
	updated_to_item_ts INTEGER NOT NULL DEFAULT 0,
	last_modified      INTEGER NOT NULL,
	blob_ref           TEXT
);

CREATE TABLE IF NOT EXISTS signal_index_blob (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	data       BLOB NOT NULL,
	size       INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Open opens a SQLite database. The pool is limited to one connection so
// writers never observe SQLITE_BUSY; every statement the package issues is
// atomic on its own.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}
