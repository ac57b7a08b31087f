// Package sqlstore keeps checkpoint records and index blobs in SQLite.
//
// Both live in the same database file, mirroring a deployment where the
// relational store also hosts the large objects:
//
//	db, err := sqlstore.Open("file:sigindex.db")
//	if err := sqlstore.Migrate(ctx, db); err != nil { ... }
//
//	repo := sqlstore.NewRepository(db)
//	blobs := sqlstore.NewBlobStore(db)
//
// Blob handles are AUTOINCREMENT row ids and are therefore never reused.
package sqlstore
