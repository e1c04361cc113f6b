package replication

import (
	"fmt"

	"github.com/ecsync/server/internal/core/ecs"
	"github.com/ecsync/server/internal/wire"
)

// Deserializer is the receiving side's per-world replication context. It owns
// the id map and mirrors decoded structural changes into the local world.
// Created once per world; a world acts as sender or receiver on a pairing,
// not both.
type Deserializer struct {
	schema *Schema
	world  *ecs.World
	idMap  *IDMap

	// Unknown-id skips are tolerated ordering artifacts, but a persistently
	// climbing count is how a genuine desync shows up, so both paths are
	// counted.
	skippedFields     uint64
	skippedStructural uint64
}

func NewDeserializer(schema *Schema, world *ecs.World) *Deserializer {
	return &Deserializer{
		schema: schema,
		world:  world,
		idMap:  NewIDMap(),
	}
}

func (d *Deserializer) IDMap() *IDMap { return d.idMap }

// RawIDMap derives the raw-slot projection of the live id map. Call once per
// tick before DecodeSoA.
func (d *Deserializer) RawIDMap() map[uint32]uint32 {
	return ToRawIDMap(d.idMap)
}

// SkippedFieldRecords returns how many SoA records referenced an unmapped
// entity and were skipped.
func (d *Deserializer) SkippedFieldRecords() uint64 { return d.skippedFields }

// SkippedStructural returns how many component events referenced an unmapped
// or dead entity and were skipped.
func (d *Deserializer) SkippedStructural() uint64 { return d.skippedStructural }

// ensureLocal returns the live local entity mirroring a remote id, creating
// and registering one when the remote id is unknown. A mapping whose local
// entity has since died is remapped to a fresh entity, moving it to the end
// of the id map's insertion order.
func (d *Deserializer) ensureLocal(remote ecs.EntityID) ecs.EntityID {
	if local, ok := d.idMap.Get(remote); ok && d.world.Alive(local) {
		return local
	}
	local := d.world.CreateEntity()
	d.schema.marker.Set(local.Slot(), Networked{})
	d.idMap.Put(remote, local)
	return local
}

// DecodeObserver applies a structural-change payload in emission order:
// entity adds register id-map entries and create local mirrors, component
// adds/removes follow, and removal of an unknown id is a no-op. An add for an
// already-mapped live entity is also a no-op: the delta of a joiner's
// connect tick re-announces entities its snapshot already carried.
func (d *Deserializer) DecodeObserver(payload []byte) error {
	r := wire.NewReader(payload)
	count := r.ReadU32()
	for i := uint32(0); i < count; i++ {
		kind := changeKind(r.ReadU8())
		comp := int(r.ReadU8())
		id := ecs.EntityID(r.ReadU64())
		if r.Err() != nil {
			break
		}

		switch kind {
		case changeEntityAdded:
			d.ensureLocal(id)

		case changeEntityRemoved:
			if local, ok := d.idMap.Get(id); ok {
				d.world.Destroy(local) // stale id: Destroy is a no-op
			}

		case changeComponentAdded, changeComponentRemoved:
			if comp >= len(d.schema.comps) {
				return fmt.Errorf("replication: observer event %d references component %d of %d, tracked lists differ", i, comp, len(d.schema.comps))
			}
			local, ok := d.idMap.Get(id)
			if !ok || !d.world.Alive(local) {
				d.skippedStructural++
				continue
			}
			if kind == changeComponentAdded {
				d.schema.comps[comp].ensure(local.Slot())
			} else {
				d.schema.comps[comp].remove(local.Slot())
			}

		default:
			return fmt.Errorf("replication: observer event %d has unknown kind %d", i, kind)
		}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("replication: observer decode: %w", err)
	}
	return nil
}

// DecodeSoA applies field values to the local entities the raw id map names.
// A record for an unmapped sender id is consumed and skipped without error:
// the structural add may simply not have arrived yet.
func (d *Deserializer) DecodeSoA(payload []byte, rawIDMap map[uint32]uint32) error {
	r := wire.NewReader(payload)
	count := r.ReadU32()
	for i := uint32(0); i < count; i++ {
		remoteSlot := r.ReadU32()
		mask := r.ReadU64()
		if r.Err() != nil {
			break
		}
		if mask>>uint(len(d.schema.fields)) != 0 {
			return fmt.Errorf("replication: soa record %d has field mask %#x beyond %d tracked fields, tracked lists differ", i, mask, len(d.schema.fields))
		}

		localSlot, mapped := rawIDMap[remoteSlot]
		if !mapped {
			d.skippedFields++
		}
		for fi, f := range d.schema.fields {
			if mask&(1<<uint(fi)) == 0 {
				continue
			}
			if mapped {
				f.decode(r, localSlot)
			} else {
				f.skip(r)
			}
		}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("replication: soa decode: %w", err)
	}
	return nil
}

// DecodeSnapshot applies a full-state payload destructively: every listed
// entity is materialized locally if needed (registering it in the id map),
// its listed components are ensured, and every field value overwrites local
// state unconditionally. Entities absent from the payload are untouched.
func (d *Deserializer) DecodeSnapshot(payload []byte) error {
	r := wire.NewReader(payload)
	count := r.ReadU32()
	for i := uint32(0); i < count; i++ {
		remote := ecs.EntityID(r.ReadU64())
		compMask := r.ReadU64()
		if r.Err() != nil {
			break
		}
		if compMask>>uint(len(d.schema.comps)) != 0 {
			return fmt.Errorf("replication: snapshot entity %d has component mask %#x beyond %d tracked components, tracked lists differ", i, compMask, len(d.schema.comps))
		}

		local := d.ensureLocal(remote)
		for ci := range d.schema.comps {
			if compMask&(1<<uint(ci)) == 0 {
				continue
			}
			d.schema.comps[ci].ensure(local.Slot())
			start, end := d.schema.fieldRange(ci)
			for fi := start; fi < end; fi++ {
				d.schema.fields[fi].decode(r, local.Slot())
			}
		}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("replication: snapshot decode: %w", err)
	}
	return nil
}
