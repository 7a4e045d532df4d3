package binx

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestReaderLittleEndian(t *testing.T) {
	var buf []byte
	buf = append(buf, 7)
	buf = binary.LittleEndian.AppendUint16(buf, 0x1234)
	buf = binary.LittleEndian.AppendUint32(buf, 0xdeadbeef)
	buf = binary.LittleEndian.AppendUint64(buf, 1<<40)
	buf = AppendString16(buf, binary.LittleEndian, "fox")
	buf = AppendString8(buf, "ok")

	r := NewReader(buf, binary.LittleEndian)
	if got := r.U8(); got != 7 {
		t.Errorf("U8 = %d, want 7", got)
	}
	if got := r.U16(); got != 0x1234 {
		t.Errorf("U16 = %#x", got)
	}
	if got := r.U32(); got != 0xdeadbeef {
		t.Errorf("U32 = %#x", got)
	}
	if got := r.U64(); got != 1<<40 {
		t.Errorf("U64 = %d", got)
	}
	if got := r.String16(); got != "fox" {
		t.Errorf("String16 = %q", got)
	}
	if got := r.String8(); got != "ok" {
		t.Errorf("String8 = %q", got)
	}
	if r.Err() != nil || r.Remaining() != 0 {
		t.Errorf("Err = %v, Remaining = %d", r.Err(), r.Remaining())
	}
}

func TestReaderLatchesShortRead(t *testing.T) {
	r := NewReader([]byte{1, 2, 3}, binary.BigEndian)
	if got := r.U16(); got != 0x0102 {
		t.Errorf("U16 = %#x, want 0x0102", got)
	}
	if got := r.U32(); got != 0 {
		t.Errorf("U32 past end = %d, want 0", got)
	}
	if got := r.U8(); got != 0 {
		t.Errorf("U8 after failure = %d, want 0", got)
	}
	if !errors.Is(r.Err(), ErrShort) {
		t.Errorf("Err = %v, want ErrShort", r.Err())
	}
}
