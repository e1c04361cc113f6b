package ecs

// SlotMask extracts the raw slot index from a versioned EntityID. The mask
// width is fixed for the lifetime of a world; both ends of a replication
// channel must agree on it.
const SlotMask = 0xFFFFFFFF

// EntityID encodes a 32-bit slot index in the lower bits and a 32-bit
// generation in the upper bits. The generation increments on destroy so a
// recycled slot is distinguishable from the entity that used to occupy it.
type EntityID uint64

func NewEntityID(slot uint32, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(slot))
}

// Slot returns the raw slot index (id & SlotMask).
func (id EntityID) Slot() uint32       { return uint32(id) }
func (id EntityID) Generation() uint32 { return uint32(id >> 32) }
func (id EntityID) IsZero() bool       { return id == 0 }

// Pool manages entity allocation with generational indices and a free list.
type Pool struct {
	generations []uint32
	freeList    []uint32
	nextSlot    uint32
}

func NewPool() *Pool {
	return &Pool{
		generations: make([]uint32, 0, 1024),
		freeList:    make([]uint32, 0, 256),
	}
}

func (p *Pool) Create() EntityID {
	if len(p.freeList) > 0 {
		slot := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return NewEntityID(slot, p.generations[slot])
	}
	slot := p.nextSlot
	p.nextSlot++
	if int(slot) >= len(p.generations) {
		p.generations = append(p.generations, 0)
	}
	return NewEntityID(slot, p.generations[slot])
}

func (p *Pool) Alive(id EntityID) bool {
	slot := id.Slot()
	if slot >= p.nextSlot {
		return false
	}
	return p.generations[slot] == id.Generation()
}

// IDFor returns the versioned id currently occupying a slot. Only meaningful
// for slots that have been created at least once.
func (p *Pool) IDFor(slot uint32) EntityID {
	if slot >= p.nextSlot {
		return 0
	}
	return NewEntityID(slot, p.generations[slot])
}

func (p *Pool) Destroy(id EntityID) {
	slot := id.Slot()
	if slot >= p.nextSlot {
		return
	}
	if p.generations[slot] != id.Generation() {
		return // already destroyed (stale reference)
	}
	p.generations[slot]++
	p.freeList = append(p.freeList, slot)
}

// Cap returns the number of slots ever allocated, the upper bound for
// slot-indexed iteration.
func (p *Pool) Cap() uint32 {
	return p.nextSlot
}
