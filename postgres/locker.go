package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLocker serializes writers across processes with session-level
// advisory locks keyed by hashtext(key). Each held lock pins one pooled
// connection.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLocker creates a locker on pool.
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// Lock blocks until the lock for key is held or ctx is done.
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		// A canceled wait leaves the session in an unknown state.
		conn.Conn().Close(context.Background())
		conn.Release()
		return nil, fmt.Errorf("postgres: advisory lock %s: %w", key, err)
	}

	return func() {
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			// Closing the session releases every lock it holds.
			conn.Conn().Close(context.Background())
		}
		conn.Release()
	}, nil
}
