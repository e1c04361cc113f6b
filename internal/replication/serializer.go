package replication

import (
	"github.com/ecsync/server/internal/core/ecs"
	"github.com/ecsync/server/internal/wire"
)

// DefaultEpsilon is the diff threshold for float fields: a value is resent
// only when it moved more than this from the last transmitted value.
const DefaultEpsilon = 1e-4

type changeKind uint8

const (
	changeEntityAdded changeKind = iota
	changeEntityRemoved
	changeComponentAdded
	changeComponentRemoved
)

type change struct {
	kind changeKind
	comp uint8
	id   ecs.EntityID
}

// Serializer is the sending side's per-world replication context. It hooks
// the marker and tracked-component stores at construction, accumulates
// structural changes in emission order, and owns the diff shadows (through
// the schema's fields). Created once per world and used from the world's
// tick goroutine only.
type Serializer struct {
	schema  *Schema
	pool    *ecs.Pool
	changes []change
	epsilon float64
}

type SerializerOption func(*Serializer)

// WithEpsilon overrides the float diff threshold.
func WithEpsilon(eps float64) SerializerOption {
	return func(s *Serializer) { s.epsilon = eps }
}

func NewSerializer(schema *Schema, pool *ecs.Pool, opts ...SerializerOption) *Serializer {
	s := &Serializer{
		schema:  schema,
		pool:    pool,
		changes: make([]change, 0, 64),
		epsilon: DefaultEpsilon,
	}
	for _, opt := range opts {
		opt(s)
	}

	schema.marker.SetHooks(s.onMarkerAdd, s.onMarkerRemove)
	for ci := range schema.comps {
		ci := ci
		schema.comps[ci].setHooks(
			func(slot uint32) { s.onComponentAdd(ci, slot) },
			func(slot uint32) { s.onComponentRemove(ci, slot) },
		)
	}
	return s
}

// onMarkerAdd records the entity add and, for tracked components the entity
// already carries, their adds, in that order, so a decoder always sees the
// entity before its components.
func (s *Serializer) onMarkerAdd(slot uint32) {
	id := s.pool.IDFor(slot)
	s.changes = append(s.changes, change{kind: changeEntityAdded, id: id})
	for ci, c := range s.schema.comps {
		if c.has(slot) {
			s.changes = append(s.changes, change{kind: changeComponentAdded, comp: uint8(ci), id: id})
		}
	}
}

func (s *Serializer) onMarkerRemove(slot uint32) {
	id := s.pool.IDFor(slot)
	s.changes = append(s.changes, change{kind: changeEntityRemoved, id: id})
	s.schema.forgetShadows(slot)
}

func (s *Serializer) onComponentAdd(ci int, slot uint32) {
	if !s.schema.marker.Has(slot) {
		return
	}
	s.changes = append(s.changes, change{kind: changeComponentAdded, comp: uint8(ci), id: s.pool.IDFor(slot)})
}

func (s *Serializer) onComponentRemove(ci int, slot uint32) {
	if !s.schema.marker.Has(slot) {
		return
	}
	s.changes = append(s.changes, change{kind: changeComponentRemoved, comp: uint8(ci), id: s.pool.IDFor(slot)})
	s.schema.forgetComponentShadows(ci, slot)
}

// PendingChanges reports how many structural events await the next
// EncodeObserver call.
func (s *Serializer) PendingChanges() int { return len(s.changes) }

// EncodeObserver drains the structural changelog into a payload. With no
// pending changes it still emits a well-formed empty payload (a zero count).
func (s *Serializer) EncodeObserver() []byte {
	w := wire.NewWriterSize(4 + len(s.changes)*10)
	w.WriteU32(uint32(len(s.changes)))
	for _, ch := range s.changes {
		w.WriteU8(uint8(ch.kind))
		w.WriteU8(ch.comp)
		w.WriteU64(uint64(ch.id))
	}
	s.changes = s.changes[:0]
	return w.Bytes()
}

// EncodeSoA writes field values for the given raw slots. In diff mode only
// fields that moved past the shadow are written, and an entity with no dirty
// field contributes zero bytes. Shadows are updated to the sent values in
// both modes.
func (s *Serializer) EncodeSoA(slots []uint32, diff bool) []byte {
	body := wire.NewWriter()
	count := uint32(0)

	for _, slot := range slots {
		var mask uint64
		for ci, c := range s.schema.comps {
			if !c.has(slot) {
				continue
			}
			start, end := s.schema.fieldRange(ci)
			for fi := start; fi < end; fi++ {
				if !diff || s.schema.fields[fi].dirty(slot, s.epsilon) {
					mask |= 1 << uint(fi)
				}
			}
		}
		if mask == 0 {
			continue
		}
		body.WriteU32(slot)
		body.WriteU64(mask)
		for fi, f := range s.schema.fields {
			if mask&(1<<uint(fi)) != 0 {
				f.encode(body, slot)
				f.commit(slot)
			}
		}
		count++
	}

	w := wire.NewWriterSize(4 + body.Len())
	w.WriteU32(count)
	w.WriteRaw(body.Bytes())
	return w.Bytes()
}

// EncodeSnapshot captures the complete current value of every tracked
// component for every marker-bearing entity, independent of diff state.
// Shadows are left untouched.
func (s *Serializer) EncodeSnapshot() []byte {
	body := wire.NewWriter()
	count := uint32(0)

	s.schema.marker.Each(func(slot uint32, _ *Networked) {
		body.WriteU64(uint64(s.pool.IDFor(slot)))
		body.WriteU64(s.schema.compMask(slot))
		for ci, c := range s.schema.comps {
			if !c.has(slot) {
				continue
			}
			start, end := s.schema.fieldRange(ci)
			for fi := start; fi < end; fi++ {
				s.schema.fields[fi].encode(body, slot)
			}
		}
		count++
	})

	w := wire.NewWriterSize(4 + body.Len())
	w.WriteU32(count)
	w.WriteRaw(body.Bytes())
	return w.Bytes()
}
