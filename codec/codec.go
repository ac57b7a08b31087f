// Package codec turns in-memory indexes into byte streams and back.
//
// A Codec is opaque beyond the byte-stream contract: Decode(Encode(v))
// must yield an index equivalent to v. Framed wraps any Codec with
// checksummed, optionally compressed blocks so truncated or damaged blobs
// are reported as ErrCorrupt instead of decoding into garbage.
//
// Changing the codec of a signal type is a breaking change: blobs written
// with another codec will fail to decode.
package codec

import (
	"errors"
	"fmt"
	"io"

	gojson "github.com/goccy/go-json"
)

// ErrCorrupt is returned when a stream fails structural validation.
var ErrCorrupt = errors.New("codec: corrupt stream")

// Codec encodes and decodes an index of type T.
// Implementations must be safe for concurrent use.
type Codec[T any] interface {
	Encode(w io.Writer, v T) error
	Decode(r io.Reader) (T, error)
}

// Func adapts a pair of functions to a Codec.
type Func[T any] struct {
	EncodeFunc func(w io.Writer, v T) error
	DecodeFunc func(r io.Reader) (T, error)
}

// Encode calls EncodeFunc.
func (f Func[T]) Encode(w io.Writer, v T) error { return f.EncodeFunc(w, v) }

// Decode calls DecodeFunc.
func (f Func[T]) Decode(r io.Reader) (T, error) { return f.DecodeFunc(r) }

// JSON is a Codec backed by github.com/goccy/go-json. It suits small
// indexes and tests; large indexes want a binary codec.
type JSON[T any] struct{}

// Encode writes v as a single JSON document.
func (JSON[T]) Encode(w io.Writer, v T) error {
	return gojson.NewEncoder(w).Encode(v)
}

// Decode reads one JSON document.
func (JSON[T]) Decode(r io.Reader) (T, error) {
	var v T
	if err := gojson.NewDecoder(r).Decode(&v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return v, nil
}
