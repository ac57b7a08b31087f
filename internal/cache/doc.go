// Package cache provides an LRU cache for blob contents.
//
// Blobs are immutable and their handles are never reused, so cached
// entries never go stale; Remove only exists to release memory early
// once a blob is deleted.
//
// The cache is bounded by its own byte capacity and, optionally, by the
// memory budget of a resource.Controller.
package cache
