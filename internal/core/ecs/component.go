package ecs

// Removable is implemented by all component stores so the Registry can
// bulk-remove an entity's data from every store on destroy.
type Removable interface {
	Remove(slot uint32)
}

// Store is a dense slot-indexed component store. The replication codecs
// address component data by raw slot, so storage is flat per-slot arrays
// rather than maps keyed by versioned id.
// No reflect and no interface{} values.
type Store[T any] struct {
	data    []T
	present []bool
	count   int

	onSet    func(slot uint32) // fired when a component is freshly added
	onRemove func(slot uint32) // fired when a present component is removed
}

func NewStore[T any]() *Store[T] {
	return &Store[T]{}
}

// SetHooks registers add/remove callbacks. The replication layer uses these
// to feed its structural changelog; hooks fire only on genuine transitions,
// not on overwrites of an existing component.
func (s *Store[T]) SetHooks(onSet, onRemove func(slot uint32)) {
	s.onSet = onSet
	s.onRemove = onRemove
}

func (s *Store[T]) grow(slot uint32) {
	for int(slot) >= len(s.data) {
		var zero T
		s.data = append(s.data, zero)
		s.present = append(s.present, false)
	}
}

// Set stores a component value, adding the component if absent.
func (s *Store[T]) Set(slot uint32, v T) {
	s.grow(slot)
	fresh := !s.present[slot]
	s.data[slot] = v
	s.present[slot] = true
	if fresh {
		s.count++
		if s.onSet != nil {
			s.onSet(slot)
		}
	}
}

// Ensure returns a pointer to the component, adding a zero value if absent.
func (s *Store[T]) Ensure(slot uint32) *T {
	s.grow(slot)
	if !s.present[slot] {
		s.present[slot] = true
		s.count++
		if s.onSet != nil {
			s.onSet(slot)
		}
	}
	return &s.data[slot]
}

// Get returns a pointer to the component, or nil if absent.
func (s *Store[T]) Get(slot uint32) (*T, bool) {
	if int(slot) >= len(s.data) || !s.present[slot] {
		return nil, false
	}
	return &s.data[slot], true
}

func (s *Store[T]) Has(slot uint32) bool {
	return int(slot) < len(s.present) && s.present[slot]
}

func (s *Store[T]) Remove(slot uint32) {
	if int(slot) >= len(s.present) || !s.present[slot] {
		return
	}
	if s.onRemove != nil {
		s.onRemove(slot)
	}
	var zero T
	s.data[slot] = zero
	s.present[slot] = false
	s.count--
}

func (s *Store[T]) Len() int {
	return s.count
}

// Each visits every present component in ascending slot order. Deterministic
// iteration keeps encode output stable across runs.
func (s *Store[T]) Each(fn func(slot uint32, v *T)) {
	for slot := range s.data {
		if s.present[slot] {
			fn(uint32(slot), &s.data[slot])
		}
	}
}
