package replication

import "github.com/ecsync/server/internal/core/ecs"

// IDMap maps the sender's versioned entity ids to the receiver's. Entries are
// created lazily as structural adds are decoded and are never pruned while
// the world pairing lives, so insertion order is kept: when a sender slot is
// recycled, both the dead and the live generation share a raw slot, and the
// raw derivation must let the newest mapping win deterministically.
type IDMap struct {
	fwd   map[ecs.EntityID]ecs.EntityID
	order []ecs.EntityID
}

func NewIDMap() *IDMap {
	return &IDMap{fwd: make(map[ecs.EntityID]ecs.EntityID)}
}

func (m *IDMap) Get(remote ecs.EntityID) (ecs.EntityID, bool) {
	local, ok := m.fwd[remote]
	return local, ok
}

// Put registers a mapping. Re-putting an existing key moves it to the end of
// the insertion order so its raw projection wins over older generations.
func (m *IDMap) Put(remote, local ecs.EntityID) {
	if _, exists := m.fwd[remote]; !exists {
		m.order = append(m.order, remote)
	} else {
		for i, k := range m.order {
			if k == remote {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		m.order = append(m.order, remote)
	}
	m.fwd[remote] = local
}

func (m *IDMap) Len() int { return len(m.fwd) }

// ToRawIDMap derives the raw-slot projection of a versioned id map: the
// generation bits of both key and value are stripped. Pure with respect to
// the input; recomputed on demand once per tick before field decoding.
func ToRawIDMap(m *IDMap) map[uint32]uint32 {
	raw := make(map[uint32]uint32, len(m.fwd))
	for _, remote := range m.order {
		raw[remote.Slot()] = m.fwd[remote].Slot()
	}
	return raw
}
