package replication

import (
	"bytes"
	"math"

	"github.com/ecsync/server/internal/wire"
)

// Field reads and writes one tracked component field for a given raw slot.
// Implementations carry the sender-side diff shadow; the receiving side never
// touches it.
type Field interface {
	name() string
	// encode writes the current value.
	encode(w *wire.Writer, slot uint32)
	// decode applies a received value to the local store.
	decode(r *wire.Reader, slot uint32)
	// skip consumes the value without applying it (unmapped entity).
	skip(r *wire.Reader)
	// dirty reports whether the current value differs from the shadow.
	// Integer and enum fields compare exactly; floats use eps.
	dirty(slot uint32, eps float64) bool
	// commit stores the current value as the new shadow.
	commit(slot uint32)
	// forget drops the shadow entry for a slot.
	forget(slot uint32)
}

// ── integer fields ─────────────────────────────────────────────────

type integer interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32
}

type intField[T integer] struct {
	fname  string
	width  int
	get    func(slot uint32) T
	set    func(slot uint32, v T)
	write  func(w *wire.Writer, v T)
	read   func(r *wire.Reader) T
	shadow map[uint32]T
}

func (f *intField[T]) name() string                      { return f.fname }
func (f *intField[T]) encode(w *wire.Writer, slot uint32) { f.write(w, f.get(slot)) }
func (f *intField[T]) decode(r *wire.Reader, slot uint32) { f.set(slot, f.read(r)) }
func (f *intField[T]) skip(r *wire.Reader)                { r.Skip(f.width) }

func (f *intField[T]) dirty(slot uint32, _ float64) bool {
	prev, ok := f.shadow[slot]
	return !ok || prev != f.get(slot)
}

func (f *intField[T]) commit(slot uint32) { f.shadow[slot] = f.get(slot) }
func (f *intField[T]) forget(slot uint32) { delete(f.shadow, slot) }

func U8Field(name string, get func(uint32) uint8, set func(uint32, uint8)) Field {
	return &intField[uint8]{
		fname: name, width: 1, get: get, set: set,
		write:  func(w *wire.Writer, v uint8) { w.WriteU8(v) },
		read:   func(r *wire.Reader) uint8 { return r.ReadU8() },
		shadow: make(map[uint32]uint8),
	}
}

func I8Field(name string, get func(uint32) int8, set func(uint32, int8)) Field {
	return &intField[int8]{
		fname: name, width: 1, get: get, set: set,
		write:  func(w *wire.Writer, v int8) { w.WriteI8(v) },
		read:   func(r *wire.Reader) int8 { return r.ReadI8() },
		shadow: make(map[uint32]int8),
	}
}

func U16Field(name string, get func(uint32) uint16, set func(uint32, uint16)) Field {
	return &intField[uint16]{
		fname: name, width: 2, get: get, set: set,
		write:  func(w *wire.Writer, v uint16) { w.WriteU16(v) },
		read:   func(r *wire.Reader) uint16 { return r.ReadU16() },
		shadow: make(map[uint32]uint16),
	}
}

func I16Field(name string, get func(uint32) int16, set func(uint32, int16)) Field {
	return &intField[int16]{
		fname: name, width: 2, get: get, set: set,
		write:  func(w *wire.Writer, v int16) { w.WriteI16(v) },
		read:   func(r *wire.Reader) int16 { return r.ReadI16() },
		shadow: make(map[uint32]int16),
	}
}

func U32Field(name string, get func(uint32) uint32, set func(uint32, uint32)) Field {
	return &intField[uint32]{
		fname: name, width: 4, get: get, set: set,
		write:  func(w *wire.Writer, v uint32) { w.WriteU32(v) },
		read:   func(r *wire.Reader) uint32 { return r.ReadU32() },
		shadow: make(map[uint32]uint32),
	}
}

func I32Field(name string, get func(uint32) int32, set func(uint32, int32)) Field {
	return &intField[int32]{
		fname: name, width: 4, get: get, set: set,
		write:  func(w *wire.Writer, v int32) { w.WriteI32(v) },
		read:   func(r *wire.Reader) int32 { return r.ReadI32() },
		shadow: make(map[uint32]int32),
	}
}

// ── float fields ───────────────────────────────────────────────────

type floatField[T ~float32 | ~float64] struct {
	fname  string
	width  int
	get    func(slot uint32) T
	set    func(slot uint32, v T)
	write  func(w *wire.Writer, v T)
	read   func(r *wire.Reader) T
	shadow map[uint32]T
}

func (f *floatField[T]) name() string                      { return f.fname }
func (f *floatField[T]) encode(w *wire.Writer, slot uint32) { f.write(w, f.get(slot)) }
func (f *floatField[T]) decode(r *wire.Reader, slot uint32) { f.set(slot, f.read(r)) }
func (f *floatField[T]) skip(r *wire.Reader)                { r.Skip(f.width) }

func (f *floatField[T]) dirty(slot uint32, eps float64) bool {
	prev, ok := f.shadow[slot]
	if !ok {
		return true
	}
	return math.Abs(float64(f.get(slot))-float64(prev)) > eps
}

func (f *floatField[T]) commit(slot uint32) { f.shadow[slot] = f.get(slot) }
func (f *floatField[T]) forget(slot uint32) { delete(f.shadow, slot) }

func F32Field(name string, get func(uint32) float32, set func(uint32, float32)) Field {
	return &floatField[float32]{
		fname: name, width: 4, get: get, set: set,
		write:  func(w *wire.Writer, v float32) { w.WriteF32(v) },
		read:   func(r *wire.Reader) float32 { return r.ReadF32() },
		shadow: make(map[uint32]float32),
	}
}

func F64Field(name string, get func(uint32) float64, set func(uint32, float64)) Field {
	return &floatField[float64]{
		fname: name, width: 8, get: get, set: set,
		write:  func(w *wire.Writer, v float64) { w.WriteF64(v) },
		read:   func(r *wire.Reader) float64 { return r.ReadF64() },
		shadow: make(map[uint32]float64),
	}
}

// ── variable-length fields ─────────────────────────────────────────

type stringField struct {
	fname  string
	get    func(slot uint32) string
	set    func(slot uint32, v string)
	shadow map[uint32]string
}

func (f *stringField) name() string                      { return f.fname }
func (f *stringField) encode(w *wire.Writer, slot uint32) { w.WriteString(f.get(slot)) }
func (f *stringField) decode(r *wire.Reader, slot uint32) { f.set(slot, r.ReadString()) }
func (f *stringField) skip(r *wire.Reader)                { r.Skip(int(r.ReadU32())) }

func (f *stringField) dirty(slot uint32, _ float64) bool {
	prev, ok := f.shadow[slot]
	return !ok || prev != f.get(slot)
}

func (f *stringField) commit(slot uint32) { f.shadow[slot] = f.get(slot) }
func (f *stringField) forget(slot uint32) { delete(f.shadow, slot) }

// StringField tracks a UTF-8 string field, length-prefixed on the wire.
func StringField(name string, get func(uint32) string, set func(uint32, string)) Field {
	return &stringField{fname: name, get: get, set: set, shadow: make(map[uint32]string)}
}

type bytesField struct {
	fname  string
	get    func(slot uint32) []byte
	set    func(slot uint32, v []byte)
	shadow map[uint32][]byte
}

func (f *bytesField) name() string                      { return f.fname }
func (f *bytesField) encode(w *wire.Writer, slot uint32) { w.WriteBytes(f.get(slot)) }
func (f *bytesField) decode(r *wire.Reader, slot uint32) { f.set(slot, r.ReadBytes()) }
func (f *bytesField) skip(r *wire.Reader)                { r.Skip(int(r.ReadU32())) }

func (f *bytesField) dirty(slot uint32, _ float64) bool {
	prev, ok := f.shadow[slot]
	return !ok || !bytes.Equal(prev, f.get(slot))
}

func (f *bytesField) commit(slot uint32) {
	f.shadow[slot] = append([]byte(nil), f.get(slot)...)
}

func (f *bytesField) forget(slot uint32) { delete(f.shadow, slot) }

// BytesField tracks a variable-length byte-array field, length-prefixed on
// the wire.
func BytesField(name string, get func(uint32) []byte, set func(uint32, []byte)) Field {
	return &bytesField{fname: name, get: get, set: set, shadow: make(map[uint32][]byte)}
}
