// Package testutil provides testing utilities for sigindex.
//
// This package is intended for use in tests only.
//
// # Random Signals
//
//	rng := testutil.NewRNG(seed)
//	hashes := rng.Hashes(1000)        // distinct uniform hashes
//	skewed := rng.ZipfHashes(1000, 50, 1.5)  // heavy repeats
//
// # Fault Injection
//
//	store := testutil.NewFaultyStore(blobstore.NewMemoryStore())
//	store.FailNext(testutil.OpDelete, errors.New("boom"))
//
// # Repository Conformance
//
//	testutil.RunRepositoryTests(t, func(t *testing.T) checkpoint.Repository {
//	    return newMyRepository(t)
//	})
package testutil
