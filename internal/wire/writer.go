// internal/wire/writer.go
package wire

import "encoding/binary"

// Writer appends big-endian values to a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter preallocates capacity for size bytes.
func NewWriter(size int) *Writer { return &Writer{buf: make([]byte, 0, size)} }

func (w *Writer) U8(v uint8) *Writer   { w.buf = append(w.buf, v); return w }
func (w *Writer) U16(v uint16) *Writer { w.buf = binary.BigEndian.AppendUint16(w.buf, v); return w }
func (w *Writer) U32(v uint32) *Writer { w.buf = binary.BigEndian.AppendUint32(w.buf, v); return w }
func (w *Writer) U64(v uint64) *Writer { w.buf = binary.BigEndian.AppendUint64(w.buf, v); return w }
func (w *Writer) I32(v int32) *Writer  { return w.U32(uint32(v)) }
func (w *Writer) I64(v int64) *Writer  { return w.U64(uint64(v)) }

// Raw appends raw bytes.
func (w *Writer) Raw(b []byte) *Writer { w.buf = append(w.buf, b...); return w }

// Pad appends n zero bytes.
func (w *Writer) Pad(n int) *Writer {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0)
	}
	return w
}

// Len is the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the written buffer.
func (w *Writer) Bytes() []byte { return w.buf }
