package system

import "time"

// Phase defines execution ordering within a single simulation step.
type Phase int

const (
	PhaseInput      Phase = iota // 0: apply queued player input
	PhaseBehavior                // 1: scripted steering decisions
	PhaseUpdate                  // 2: movement and world logic
	PhasePostUpdate              // 3: regen, bounds, expiry
	PhaseCleanup                 // 4: destroy queued entities
)

// System is the interface every simulation system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
