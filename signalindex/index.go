// Package signalindex provides an exact-match signal index: a map from
// signal hash to the set of item ids that produced it.
//
// It is the reference index persisted by sigindex. Id sets are 64-bit
// roaring bitmaps, so dense id ranges stay compact both in memory and in
// the serialized form produced by Codec.
package signalindex

import (
	"iter"
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// Index maps signal hashes to item ids. It is not safe for concurrent
// mutation; concurrent reads are fine.
type Index struct {
	entries map[string]*roaring64.Bitmap
}

// New returns an empty index.
func New() *Index {
	return &Index{entries: make(map[string]*roaring64.Bitmap)}
}

// Add records that item id produced hash.
func (x *Index) Add(hash string, id uint64) {
	bm, ok := x.entries[hash]
	if !ok {
		bm = roaring64.New()
		x.entries[hash] = bm
	}
	bm.Add(id)
}

// Remove deletes one (hash, id) pair.
func (x *Index) Remove(hash string, id uint64) {
	bm, ok := x.entries[hash]
	if !ok {
		return
	}
	bm.Remove(id)
	if bm.IsEmpty() {
		delete(x.entries, hash)
	}
}

// Query returns the ids that produced hash in ascending order.
func (x *Index) Query(hash string) []uint64 {
	bm, ok := x.entries[hash]
	if !ok {
		return nil
	}
	return bm.ToArray()
}

// Contains reports whether id produced hash.
func (x *Index) Contains(hash string, id uint64) bool {
	bm, ok := x.entries[hash]
	return ok && bm.Contains(id)
}

// Len returns the number of (hash, id) entries.
func (x *Index) Len() int64 {
	var n uint64
	for _, bm := range x.entries {
		n += bm.GetCardinality()
	}
	return int64(n)
}

// Hashes returns the number of distinct hashes.
func (x *Index) Hashes() int {
	return len(x.entries)
}

// Merge folds other into x.
func (x *Index) Merge(other *Index) {
	for hash, bm := range other.entries {
		if mine, ok := x.entries[hash]; ok {
			mine.Or(bm)
			continue
		}
		x.entries[hash] = bm.Clone()
	}
}

// All iterates over hashes in ascending order with their ids.
func (x *Index) All() iter.Seq2[string, []uint64] {
	return func(yield func(string, []uint64) bool) {
		for _, hash := range slices.Sorted(maps.Keys(x.entries)) {
			if !yield(hash, x.entries[hash].ToArray()) {
				return
			}
		}
	}
}

// SizeInBytes estimates the serialized size of the id sets.
func (x *Index) SizeInBytes() uint64 {
	var n uint64
	for hash, bm := range x.entries {
		n += uint64(len(hash)) + bm.GetSerializedSizeInBytes()
	}
	return n
}

// Equal reports whether both indexes hold the same entries.
func (x *Index) Equal(other *Index) bool {
	if len(x.entries) != len(other.entries) {
		return false
	}
	for hash, bm := range x.entries {
		o, ok := other.entries[hash]
		if !ok || !bm.Equals(o) {
			return false
		}
	}
	return true
}
