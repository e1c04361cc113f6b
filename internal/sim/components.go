package sim

// Transform is an entity's position in the play area. Replicated.
type Transform struct {
	X, Y float32
}

// Velocity is units per second. Server-side only; clients derive motion from
// transform updates.
type Velocity struct {
	DX, DY float32
}

// Health is current and maximum hit points. Replicated.
type Health struct {
	HP, Max uint16
}

// Label is an entity's display name. Replicated.
type Label struct {
	Name string
}

// Agent marks a scripted entity and names its behavior. Server-side only.
type Agent struct {
	ArchetypeID int32
	Behavior    string
	Speed       float32
}

// InputState is the last input received for a player entity. Server-side
// only.
type InputState struct {
	DX, DY float32
}
