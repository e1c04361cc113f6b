package ecs

// Each2 iterates over entities that have both component A and B.
// It iterates over the smaller store and checks the larger one.
func Each2[A, B any](sa *Store[A], sb *Store[B], fn func(slot uint32, a *A, b *B)) {
	if sa.Len() <= sb.Len() {
		sa.Each(func(slot uint32, a *A) {
			if b, ok := sb.Get(slot); ok {
				fn(slot, a, b)
			}
		})
	} else {
		sb.Each(func(slot uint32, b *B) {
			if a, ok := sa.Get(slot); ok {
				fn(slot, a, b)
			}
		})
	}
}

// Each3 iterates over entities that have components A, B, and C.
func Each3[A, B, C any](sa *Store[A], sb *Store[B], sc *Store[C], fn func(slot uint32, a *A, b *B, c *C)) {
	Each2(sa, sb, func(slot uint32, a *A, b *B) {
		if c, ok := sc.Get(slot); ok {
			fn(slot, a, b, c)
		}
	})
}
