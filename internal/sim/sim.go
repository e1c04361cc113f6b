package sim

import (
	"fmt"
	"math/rand"

	"github.com/ecsync/server/internal/core/ecs"
	"github.com/ecsync/server/internal/data"
	"github.com/ecsync/server/internal/replication"
	"github.com/ecsync/server/internal/wire"
)

// Sim owns one world and its component stores. The same type backs the
// server's authoritative state and a client's mirror: both sides build the
// identical tracked-component schema over their own stores, which is what
// makes their payloads wire-compatible.
type Sim struct {
	World *ecs.World

	Transforms *ecs.Store[Transform]
	Velocities *ecs.Store[Velocity]
	Healths    *ecs.Store[Health]
	Labels     *ecs.Store[Label]
	Agents     *ecs.Store[Agent]
	Inputs     *ecs.Store[InputState]
	Networked  *ecs.Store[replication.Networked]

	schema *Schema
	Bounds float32
}

// Schema is the tracked-component layout shared by every peer.
type Schema = replication.Schema

func New(bounds float32) (*Sim, error) {
	s := &Sim{
		World:      ecs.NewWorld(),
		Transforms: ecs.NewStore[Transform](),
		Velocities: ecs.NewStore[Velocity](),
		Healths:    ecs.NewStore[Health](),
		Labels:     ecs.NewStore[Label](),
		Agents:     ecs.NewStore[Agent](),
		Inputs:     ecs.NewStore[InputState](),
		Networked:  ecs.NewStore[replication.Networked](),
		Bounds:     bounds,
	}
	// Tracked stores first, marker last: destroying an entity then reports
	// component removals before the entity removal.
	s.World.Registry().Register(s.Transforms)
	s.World.Registry().Register(s.Velocities)
	s.World.Registry().Register(s.Healths)
	s.World.Registry().Register(s.Labels)
	s.World.Registry().Register(s.Agents)
	s.World.Registry().Register(s.Inputs)
	s.World.Registry().Register(s.Networked)

	schema, err := replication.NewSchema(s.Networked,
		replication.NewComponent("transform", s.Transforms,
			replication.F32Field("x",
				func(slot uint32) float32 { return s.Transforms.Ensure(slot).X },
				func(slot uint32, v float32) { s.Transforms.Ensure(slot).X = v }),
			replication.F32Field("y",
				func(slot uint32) float32 { return s.Transforms.Ensure(slot).Y },
				func(slot uint32, v float32) { s.Transforms.Ensure(slot).Y = v }),
		),
		replication.NewComponent("health", s.Healths,
			replication.U16Field("hp",
				func(slot uint32) uint16 { return s.Healths.Ensure(slot).HP },
				func(slot uint32, v uint16) { s.Healths.Ensure(slot).HP = v }),
			replication.U16Field("max",
				func(slot uint32) uint16 { return s.Healths.Ensure(slot).Max },
				func(slot uint32, v uint16) { s.Healths.Ensure(slot).Max = v }),
		),
		replication.NewComponent("label", s.Labels,
			replication.StringField("name",
				func(slot uint32) string { return s.Labels.Ensure(slot).Name },
				func(slot uint32, v string) { s.Labels.Ensure(slot).Name = v }),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("sim schema: %w", err)
	}
	s.schema = schema
	return s, nil
}

func (s *Sim) Schema() *Schema { return s.schema }

// SpawnPlayer creates a replicated entity for a connected client.
func (s *Sim) SpawnPlayer(name string) ecs.EntityID {
	id := s.World.CreateEntity()
	slot := id.Slot()
	s.Transforms.Set(slot, Transform{})
	s.Velocities.Set(slot, Velocity{})
	s.Healths.Set(slot, Health{HP: 100, Max: 100})
	s.Labels.Set(slot, Label{Name: name})
	s.Inputs.Set(slot, InputState{})
	s.Networked.Set(slot, replication.Networked{})
	return id
}

// SpawnAgent creates a scripted entity from an archetype.
func (s *Sim) SpawnAgent(a *data.Archetype, x, y float32) ecs.EntityID {
	id := s.World.CreateEntity()
	slot := id.Slot()
	s.Transforms.Set(slot, Transform{X: x, Y: y})
	s.Velocities.Set(slot, Velocity{})
	s.Healths.Set(slot, Health{HP: a.HP, Max: a.HP})
	s.Labels.Set(slot, Label{Name: a.Name})
	s.Agents.Set(slot, Agent{ArchetypeID: a.ID, Behavior: a.Behavior, Speed: a.Speed})
	if a.Networked {
		s.Networked.Set(slot, replication.Networked{})
	}
	return id
}

// Populate spawns every entry of a spawn list, scattering multiples inside
// the entry's spread radius.
func (s *Sim) Populate(table *data.ArchetypeTable, spawns []data.SpawnEntry, rng *rand.Rand) error {
	for _, entry := range spawns {
		arch := table.Get(entry.ArchetypeID)
		if arch == nil {
			return fmt.Errorf("spawn references unknown archetype %d", entry.ArchetypeID)
		}
		for i := 0; i < entry.Count; i++ {
			x, y := entry.X, entry.Y
			if entry.Spread > 0 {
				x += (rng.Float32()*2 - 1) * entry.Spread
				y += (rng.Float32()*2 - 1) * entry.Spread
			}
			s.SpawnAgent(arch, x, y)
		}
	}
	return nil
}

// DecodeInput parses an input payload: two little-endian f32s, a movement
// direction.
func DecodeInput(payload []byte) (InputState, error) {
	r := wire.NewReader(payload)
	in := InputState{DX: r.ReadF32(), DY: r.ReadF32()}
	if err := r.Err(); err != nil {
		return InputState{}, fmt.Errorf("input payload: %w", err)
	}
	return in, nil
}

// EncodeInput builds the payload DecodeInput parses.
func EncodeInput(in InputState) []byte {
	w := wire.NewWriterSize(8)
	w.WriteF32(in.DX)
	w.WriteF32(in.DY)
	return w.Bytes()
}

// ApplyInput stores a decoded input on a player entity. Unknown or dead
// entities are ignored.
func (s *Sim) ApplyInput(id ecs.EntityID, payload []byte) {
	if !s.World.Alive(id) {
		return
	}
	in, err := DecodeInput(payload)
	if err != nil {
		return
	}
	s.Inputs.Set(id.Slot(), in)
}
