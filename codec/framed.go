package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Stream layout:
//
//	header: "SIGF" | version u8 | compression u8 | reserved u16
//	block:  rawLen u32 | storedLen u32 | crc32c(raw) u32 | stored bytes
//	end:    rawLen == 0
//
// storedLen == 0 means the block is stored uncompressed (rawLen bytes).
// All integers are little endian.
const (
	frameMagic      = "SIGF"
	frameVersion    = 1
	frameHeaderSize = 8
	blockHeaderSize = 12

	// DefaultBlockSize is the uncompressed size of a block.
	DefaultBlockSize = 1 << 20

	// maxBlockSize bounds allocations when reading damaged streams.
	maxBlockSize = 64 << 20
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func crc32c(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

// ChecksumMismatchError is returned when a block fails CRC verification.
type ChecksumMismatchError struct {
	Block    int
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("codec: block %d checksum mismatch: expected 0x%08x, got 0x%08x", e.Block, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrCorrupt) hold for checksum failures.
func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrCorrupt
}

// FramedOption configures a Framed codec.
type FramedOption func(*framedOptions)

type framedOptions struct {
	compression Compression
	blockSize   int
}

// WithCompression selects the block compression. Default: none.
func WithCompression(c Compression) FramedOption {
	return func(o *framedOptions) {
		o.compression = c
	}
}

// WithBlockSize sets the uncompressed block size. Default: 1 MiB.
func WithBlockSize(n int) FramedOption {
	return func(o *framedOptions) {
		if n > 0 && n <= maxBlockSize {
			o.blockSize = n
		}
	}
}

// Framed wraps a Codec with checksummed, optionally compressed blocks.
type Framed[T any] struct {
	inner Codec[T]
	opts  framedOptions
}

// NewFramed wraps inner.
func NewFramed[T any](inner Codec[T], optFns ...FramedOption) *Framed[T] {
	opts := framedOptions{
		compression: CompressionNone,
		blockSize:   DefaultBlockSize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Framed[T]{inner: inner, opts: opts}
}

// Encode writes the header, the blocks produced by the inner codec and the
// end marker.
func (f *Framed[T]) Encode(w io.Writer, v T) error {
	var hdr [frameHeaderSize]byte
	copy(hdr[:4], frameMagic)
	hdr[4] = frameVersion
	hdr[5] = byte(f.opts.compression)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	bw := &blockWriter{
		w:           w,
		compression: f.opts.compression,
		buf:         make([]byte, 0, f.opts.blockSize),
	}
	if err := f.inner.Encode(bw, v); err != nil {
		return err
	}
	return bw.Close()
}

// Decode validates the stream while handing its payload to the inner
// codec. Every block is verified, including those the inner codec did not
// consume.
func (f *Framed[T]) Decode(r io.Reader) (T, error) {
	var zero T

	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return zero, fmt.Errorf("%w: read header: %w", ErrCorrupt, err)
	}
	if string(hdr[:4]) != frameMagic {
		return zero, fmt.Errorf("%w: bad magic %q", ErrCorrupt, hdr[:4])
	}
	if hdr[4] != frameVersion {
		return zero, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, hdr[4])
	}

	br := &blockReader{
		r:           bufio.NewReader(r),
		compression: Compression(hdr[5]),
	}

	v, err := f.inner.Decode(br)
	if br.err != nil && !errors.Is(br.err, io.EOF) {
		return zero, br.err
	}
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	if _, err := io.Copy(io.Discard, br); err != nil {
		return zero, err
	}
	return v, nil
}

type blockWriter struct {
	w           io.Writer
	compression Compression
	buf         []byte
}

func (b *blockWriter) Write(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		room := cap(b.buf) - len(b.buf)
		take := min(room, len(p))
		b.buf = append(b.buf, p[:take]...)
		p = p[take:]
		n += take
		if len(b.buf) == cap(b.buf) {
			if err := b.flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (b *blockWriter) flush() error {
	if len(b.buf) == 0 {
		return nil
	}

	stored, err := compress(b.compression, b.buf)
	if err != nil {
		return err
	}

	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(b.buf)))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(stored)))
	binary.LittleEndian.PutUint32(hdr[8:], crc32c(b.buf))
	if _, err := b.w.Write(hdr[:]); err != nil {
		return err
	}

	payload := stored
	if payload == nil {
		payload = b.buf
	}
	if _, err := b.w.Write(payload); err != nil {
		return err
	}

	b.buf = b.buf[:0]
	return nil
}

// Close flushes the last block and writes the end marker.
func (b *blockWriter) Close() error {
	if err := b.flush(); err != nil {
		return err
	}
	var end [blockHeaderSize]byte
	_, err := b.w.Write(end[:])
	return err
}

type blockReader struct {
	r           *bufio.Reader
	compression Compression
	cur         []byte
	block       int
	err         error
}

func (b *blockReader) Read(p []byte) (int, error) {
	for len(b.cur) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		b.err = b.next()
	}
	n := copy(p, b.cur)
	b.cur = b.cur[n:]
	return n, nil
}

func (b *blockReader) next() error {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(b.r, hdr[:]); err != nil {
		return fmt.Errorf("%w: block %d: truncated header: %w", ErrCorrupt, b.block, err)
	}

	rawLen := binary.LittleEndian.Uint32(hdr[0:])
	storedLen := binary.LittleEndian.Uint32(hdr[4:])
	sum := binary.LittleEndian.Uint32(hdr[8:])

	if rawLen == 0 {
		return io.EOF
	}
	if rawLen > maxBlockSize || storedLen > maxBlockSize {
		return fmt.Errorf("%w: block %d: size %d exceeds limit", ErrCorrupt, b.block, max(rawLen, storedLen))
	}

	readLen := rawLen
	if storedLen != 0 {
		readLen = storedLen
	}
	data := make([]byte, readLen)
	if _, err := io.ReadFull(b.r, data); err != nil {
		return fmt.Errorf("%w: block %d: truncated payload: %w", ErrCorrupt, b.block, err)
	}

	if storedLen != 0 {
		raw, err := decompress(b.compression, data, int(rawLen))
		if err != nil {
			return fmt.Errorf("%w: block %d: %w", ErrCorrupt, b.block, err)
		}
		data = raw
	}

	if actual := crc32c(data); actual != sum {
		return &ChecksumMismatchError{Block: b.block, Expected: sum, Actual: actual}
	}

	b.cur = data
	b.block++
	return nil
}
