package sim

import (
	"time"

	"github.com/ecsync/server/internal/core/ecs"
	"github.com/ecsync/server/internal/core/system"
)

const playerSpeed = 3.0 // units per second at full stick deflection

// InputSystem turns the last received input of each player into velocity.
type InputSystem struct {
	sim *Sim
}

func NewInputSystem(s *Sim) *InputSystem { return &InputSystem{sim: s} }

func (*InputSystem) Phase() system.Phase { return system.PhaseInput }

func (sys *InputSystem) Update(time.Duration) {
	ecs.Each2(sys.sim.Inputs, sys.sim.Velocities, func(_ uint32, in *InputState, v *Velocity) {
		v.DX = clamp(in.DX, -1, 1) * playerSpeed
		v.DY = clamp(in.DY, -1, 1) * playerSpeed
	})
}

// BehaviorSystem asks each agent's Lua behavior for a steering direction.
type BehaviorSystem struct {
	sim    *Sim
	engine *Engine
	tick   uint64
}

func NewBehaviorSystem(s *Sim, engine *Engine) *BehaviorSystem {
	return &BehaviorSystem{sim: s, engine: engine}
}

func (*BehaviorSystem) Phase() system.Phase { return system.PhaseBehavior }

func (sys *BehaviorSystem) Update(time.Duration) {
	sys.tick++
	ecs.Each3(sys.sim.Agents, sys.sim.Transforms, sys.sim.Velocities,
		func(slot uint32, a *Agent, tf *Transform, v *Velocity) {
			ctx := SteerContext{
				X:      tf.X,
				Y:      tf.Y,
				Bounds: sys.sim.Bounds,
				Tick:   sys.tick,
			}
			if h, ok := sys.sim.Healths.Get(slot); ok {
				ctx.HP, ctx.MaxHP = h.HP, h.Max
			}
			steer := sys.engine.Steer(a.Behavior, ctx)
			v.DX = clamp(steer.DX, -1, 1) * a.Speed
			v.DY = clamp(steer.DY, -1, 1) * a.Speed
		})
}

// MovementSystem integrates velocity and clamps positions to the play area.
type MovementSystem struct {
	sim *Sim
}

func NewMovementSystem(s *Sim) *MovementSystem { return &MovementSystem{sim: s} }

func (*MovementSystem) Phase() system.Phase { return system.PhaseUpdate }

func (sys *MovementSystem) Update(dt time.Duration) {
	step := float32(dt.Seconds())
	bounds := sys.sim.Bounds
	ecs.Each2(sys.sim.Transforms, sys.sim.Velocities, func(_ uint32, tf *Transform, v *Velocity) {
		tf.X = clamp(tf.X+v.DX*step, -bounds, bounds)
		tf.Y = clamp(tf.Y+v.DY*step, -bounds, bounds)
	})
}

// RegenSystem restores one hit point per second to anything wounded.
type RegenSystem struct {
	sim   *Sim
	accum time.Duration
}

func NewRegenSystem(s *Sim) *RegenSystem { return &RegenSystem{sim: s} }

func (*RegenSystem) Phase() system.Phase { return system.PhasePostUpdate }

func (sys *RegenSystem) Update(dt time.Duration) {
	sys.accum += dt
	if sys.accum < time.Second {
		return
	}
	sys.accum -= time.Second
	sys.sim.Healths.Each(func(_ uint32, h *Health) {
		if h.HP > 0 && h.HP < h.Max {
			h.HP++
		}
	})
}

// CleanupSystem destroys dead agents and flushes the deferred-destroy queue.
type CleanupSystem struct {
	sim *Sim
}

func NewCleanupSystem(s *Sim) *CleanupSystem { return &CleanupSystem{sim: s} }

func (*CleanupSystem) Phase() system.Phase { return system.PhaseCleanup }

func (sys *CleanupSystem) Update(time.Duration) {
	ecs.Each2(sys.sim.Agents, sys.sim.Healths, func(slot uint32, _ *Agent, h *Health) {
		if h.HP == 0 {
			sys.sim.World.MarkForDestruction(sys.sim.World.Pool().IDFor(slot))
		}
	})
	sys.sim.World.FlushDestroyQueue()
}

// NewRunner assembles the standard system set. Pass a nil engine to run
// without scripted behaviors.
func NewRunner(s *Sim, engine *Engine) *system.Runner {
	r := system.NewRunner()
	r.Register(NewInputSystem(s))
	if engine != nil {
		r.Register(NewBehaviorSystem(s, engine))
	}
	r.Register(NewMovementSystem(s))
	r.Register(NewRegenSystem(s))
	r.Register(NewCleanupSystem(s))
	return r
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
