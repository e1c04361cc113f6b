package replication

import (
	"fmt"

	"github.com/ecsync/server/internal/core/ecs"
)

// Networked is the marker component. Only entities bearing it participate in
// replication.
type Networked struct{}

// Component describes one tracked component type: its name, its ordered
// fields, and the store operations the codecs need. Built with NewComponent
// so the generic store type stays out of the schema.
type Component struct {
	name   string
	fields []Field

	has      func(slot uint32) bool
	ensure   func(slot uint32)
	remove   func(slot uint32)
	setHooks func(onSet, onRemove func(slot uint32))
}

// NewComponent binds a component schema to its store. Field order is part of
// the wire contract and must match on both peers.
func NewComponent[T any](name string, store *ecs.Store[T], fields ...Field) Component {
	return Component{
		name:     name,
		fields:   fields,
		has:      store.Has,
		ensure:   func(slot uint32) { store.Ensure(slot) },
		remove:   store.Remove,
		setHooks: store.SetHooks,
	}
}

func (c Component) Name() string { return c.name }

// Schema is the ordered tracked-component list shared by both sides of a
// channel. Registration order is part of the wire contract: peers with
// different component or field ordering are wire-incompatible, and no runtime
// negotiation is attempted.
//
// A Schema instance is per-world: its field accessors close over one world's
// stores, and the diff shadows inside its fields belong to the serializing
// side alone.
type Schema struct {
	marker *ecs.Store[Networked]
	comps  []Component

	fields     []Field // flattened in component order
	fieldStart []int   // first global field index per component
}

// Limits imposed by the u64 field and component masks in the wire format.
const (
	maxFields     = 64
	maxComponents = 64
)

func NewSchema(marker *ecs.Store[Networked], comps ...Component) (*Schema, error) {
	if len(comps) > maxComponents {
		return nil, fmt.Errorf("replication: %d tracked components exceeds limit %d", len(comps), maxComponents)
	}
	s := &Schema{
		marker: marker,
		comps:  comps,
	}
	for _, c := range comps {
		s.fieldStart = append(s.fieldStart, len(s.fields))
		s.fields = append(s.fields, c.fields...)
	}
	if len(s.fields) > maxFields {
		return nil, fmt.Errorf("replication: %d tracked fields exceeds limit %d", len(s.fields), maxFields)
	}
	return s, nil
}

func (s *Schema) Marker() *ecs.Store[Networked] { return s.marker }

// NetworkedSlots returns the raw slots of all marker-bearing entities in
// ascending order.
func (s *Schema) NetworkedSlots() []uint32 {
	slots := make([]uint32, 0, s.marker.Len())
	s.marker.Each(func(slot uint32, _ *Networked) {
		slots = append(slots, slot)
	})
	return slots
}

// compMask returns a bit per component present on the slot.
func (s *Schema) compMask(slot uint32) uint64 {
	var mask uint64
	for ci, c := range s.comps {
		if c.has(slot) {
			mask |= 1 << uint(ci)
		}
	}
	return mask
}

// fieldRange returns the global field index range [start, end) of component ci.
func (s *Schema) fieldRange(ci int) (int, int) {
	start := s.fieldStart[ci]
	end := len(s.fields)
	if ci+1 < len(s.comps) {
		end = s.fieldStart[ci+1]
	}
	return start, end
}

// fullFieldMask returns the bits of every field belonging to a component
// present on the slot.
func (s *Schema) fullFieldMask(slot uint32) uint64 {
	var mask uint64
	for ci, c := range s.comps {
		if !c.has(slot) {
			continue
		}
		start, end := s.fieldRange(ci)
		for fi := start; fi < end; fi++ {
			mask |= 1 << uint(fi)
		}
	}
	return mask
}

// forgetShadows drops every field's shadow entry for a slot. Called when the
// slot leaves replication so a recycled slot never diffs against a dead
// entity's values.
func (s *Schema) forgetShadows(slot uint32) {
	for _, f := range s.fields {
		f.forget(slot)
	}
}

func (s *Schema) forgetComponentShadows(ci int, slot uint32) {
	start, end := s.fieldRange(ci)
	for fi := start; fi < end; fi++ {
		s.fields[fi].forget(slot)
	}
}
