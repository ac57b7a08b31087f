package signalindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/sigindex/codec"
)

// Layout: "SIDX" | version u8 | hash count uvarint |
// per hash (ascending): len uvarint | hash | bitmap len uvarint | bitmap.
const (
	indexMagic   = "SIDX"
	indexVersion = 1

	// maxFieldSize bounds allocations when reading damaged streams.
	maxFieldSize = 256 << 20
)

// Codec serializes an Index. The output is deterministic: equal indexes
// produce identical bytes.
type Codec struct{}

var _ codec.Codec[*Index] = Codec{}

// Encode writes x to w.
func (Codec) Encode(w io.Writer, x *Index) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(indexMagic); err != nil {
		return err
	}
	if err := bw.WriteByte(indexVersion); err != nil {
		return err
	}

	var scratch [binary.MaxVarintLen64]byte
	writeUvarint := func(v uint64) error {
		n := binary.PutUvarint(scratch[:], v)
		_, err := bw.Write(scratch[:n])
		return err
	}

	if err := writeUvarint(uint64(len(x.entries))); err != nil {
		return err
	}
	for _, hash := range slices.Sorted(maps.Keys(x.entries)) {
		bm := x.entries[hash]
		bm.RunOptimize()
		data, err := bm.MarshalBinary()
		if err != nil {
			return fmt.Errorf("signalindex: marshal %q: %w", hash, err)
		}
		if err := writeUvarint(uint64(len(hash))); err != nil {
			return err
		}
		if _, err := bw.WriteString(hash); err != nil {
			return err
		}
		if err := writeUvarint(uint64(len(data))); err != nil {
			return err
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Decode reads an Index. Structural problems wrap codec.ErrCorrupt.
func (Codec) Decode(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)

	var hdr [len(indexMagic) + 1]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, corrupt("header", err)
	}
	if string(hdr[:len(indexMagic)]) != indexMagic {
		return nil, fmt.Errorf("%w: signalindex: bad magic", codec.ErrCorrupt)
	}
	if hdr[len(indexMagic)] != indexVersion {
		return nil, fmt.Errorf("%w: signalindex: unsupported version %d", codec.ErrCorrupt, hdr[len(indexMagic)])
	}

	count, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, corrupt("count", err)
	}

	x := New()
	for i := uint64(0); i < count; i++ {
		hash, err := readField(br)
		if err != nil {
			return nil, corrupt("hash", err)
		}
		data, err := readField(br)
		if err != nil {
			return nil, corrupt("bitmap", err)
		}
		bm := roaring64.New()
		if err := bm.UnmarshalBinary(data); err != nil {
			return nil, corrupt("bitmap", err)
		}
		x.entries[string(hash)] = bm
	}
	return x, nil
}

func readField(br *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if n > maxFieldSize {
		return nil, fmt.Errorf("field of %d bytes exceeds limit", n)
	}
	buf := make([]byte, n)
	_, err = io.ReadFull(br, buf)
	return buf, err
}

func corrupt(what string, err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: signalindex: read %s: %w", codec.ErrCorrupt, what, err)
}
