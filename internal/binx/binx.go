// Package binx holds the byte-level helpers shared by the wire protocol and
// the on-disk formats.
package binx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShort is returned when a read runs past the end of the buffer.
var ErrShort = errors.New("buffer too short")

// Reader decodes fixed-width values from a byte slice. The first failure is
// latched; later reads return zero values and Err reports the original error.
type Reader struct {
	buf   []byte
	off   int
	order binary.ByteOrder
	err   error
}

// NewReader returns a Reader over buf using the given byte order.
func NewReader(buf []byte, order binary.ByteOrder) *Reader {
	return &Reader{buf: buf, order: order}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShort, n, r.off, len(r.buf)-r.off)
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

func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return r.order.Uint16(b)
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return r.order.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return r.order.Uint64(b)
}

func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }
func (r *Reader) F64() float64 { return math.Float64frombits(r.U64()) }

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) []byte { return r.take(n) }

// String8 reads a string prefixed by a one byte length.
func (r *Reader) String8() string {
	n := int(r.U8())
	return string(r.take(n))
}

// String16 reads a string prefixed by a two byte length.
func (r *Reader) String16() string {
	n := int(r.U16())
	return string(r.take(n))
}

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

func (r *Reader) Err() error { return r.err }

// AppendString16 appends a two byte length followed by s. Strings longer
// than 64KiB are truncated.
func AppendString16(dst []byte, order binary.AppendByteOrder, s string) []byte {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	dst = order.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

// AppendString8 appends a one byte length followed by s, truncating to 255 bytes.
func AppendString8(dst []byte, s string) []byte {
	if len(s) > math.MaxUint8 {
		s = s[:math.MaxUint8]
	}
	dst = append(dst, uint8(len(s)))
	return append(dst, s...)
}
