package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrTruncated is reported when a payload ends before a read completes.
// Decoders must treat it as a protocol violation, not as end-of-data.
var ErrTruncated = errors.New("wire: truncated payload")

// Reader reads replication payload fields. A short read sets a sticky error
// and every later read returns zero values; callers check Err() once after
// a decode pass instead of after every field.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) fail(need int) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d of %d", ErrTruncated, need, r.off, len(r.data))
	}
}

// ReadU8 reads 1 byte.
func (r *Reader) ReadU8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.off+1 > len(r.data) {
		r.fail(1)
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

// ReadU16 reads 2 bytes little-endian.
func (r *Reader) ReadU16() uint16 {
	if r.err != nil {
		return 0
	}
	if r.off+2 > len(r.data) {
		r.fail(2)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

// ReadU32 reads 4 bytes little-endian.
func (r *Reader) ReadU32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.data) {
		r.fail(4)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

// ReadU64 reads 8 bytes little-endian.
func (r *Reader) ReadU64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.data) {
		r.fail(8)
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *Reader) ReadI8() int8   { return int8(r.ReadU8()) }
func (r *Reader) ReadI16() int16 { return int16(r.ReadU16()) }
func (r *Reader) ReadI32() int32 { return int32(r.ReadU32()) }

// ReadF32 reads an IEEE-754 float32.
func (r *Reader) ReadF32() float32 {
	return math.Float32frombits(r.ReadU32())
}

// ReadF64 reads an IEEE-754 float64.
func (r *Reader) ReadF64() float64 {
	return math.Float64frombits(r.ReadU64())
}

// ReadBytes reads a u32 length prefix and that many bytes into a fresh slice.
func (r *Reader) ReadBytes() []byte {
	n := int(r.ReadU32())
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.fail(n)
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// ReadString reads a u32 length prefix and that many UTF-8 bytes.
func (r *Reader) ReadString() string {
	n := int(r.ReadU32())
	if r.err != nil {
		return ""
	}
	if r.off+n > len(r.data) {
		r.fail(n)
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

// ReadRaw reads n raw bytes without a length prefix.
func (r *Reader) ReadRaw(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.fail(n)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) {
	if r.err != nil {
		return
	}
	if r.off+n > len(r.data) {
		r.fail(n)
		return
	}
	r.off += n
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Err returns the sticky truncation error, if any read overran the payload.
func (r *Reader) Err() error {
	return r.err
}
