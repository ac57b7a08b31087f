// Package postgres stores index blobs as PostgreSQL large objects and
// checkpoint records in a regular table of the same database.
//
// Large objects are not covered by row-level transactions of the table
// that references them, which is exactly the gap the commit protocol in
// package sigindex closes: upload first, swap the reference, then unlink.
//
//	pool, err := pgxpool.New(ctx, dsn)
//	if err := postgres.Migrate(ctx, pool); err != nil { ... }
//
//	blobs := postgres.NewLargeObjectStore(pool)
//	repo := postgres.NewRepository(pool)
//	locks := postgres.NewAdvisoryLocker(pool)
//
// Every large object created here carries a "sigindex created=<time>"
// comment. List only reports objects with that marker, so reconciliation
// never touches large objects owned by other applications.
package postgres
