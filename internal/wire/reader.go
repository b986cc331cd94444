// internal/wire/reader.go

// Package wire reads and writes big-endian fixed-width integers over a
// byte slice.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShort is recorded when a read runs past the end of the buffer.
var ErrShort = errors.New("wire: read past end of buffer")

// Reader is a cursor over a byte slice. Errors are sticky: after the first
// out-of-range read every further read returns zero and Err reports the
// first failure.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader wraps b. b is not copied.
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Len is the total buffer length.
func (r *Reader) Len() int { return len(r.buf) }

// Offset is the current cursor position.
func (r *Reader) Offset() int { return r.off }

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.off >= len(r.buf) {
		return 0
	}
	return len(r.buf) - r.off
}

// Err returns the first read error, if any.
func (r *Reader) Err() error { return r.err }

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(off int) *Reader {
	if off < 0 {
		off = 0
	}
	r.off = off
	return r
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShort, n, r.off, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) I8() int8 { return int8(r.U8()) }

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) I16() int16 { return int16(r.U16()) }

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) I32() int32 { return int32(r.U32()) }

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *Reader) I64() int64 { return int64(r.U64()) }

// U64Clamped reads a u64 and clamps values above MaxInt64.
// The bool reports whether clamping happened.
func (r *Reader) U64Clamped() (int64, bool) {
	v := r.U64()
	if v > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(v), false
}

// Bytes returns the next n bytes. The slice aliases the buffer.
func (r *Reader) Bytes(n int) []byte {
	if n < 0 {
		r.err = fmt.Errorf("%w: negative length %d", ErrShort, n)
		return nil
	}
	return r.take(n)
}

// Rest returns every unread byte and moves the cursor to the end.
func (r *Reader) Rest() []byte {
	if r.err != nil || r.off >= len(r.buf) {
		return nil
	}
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}
