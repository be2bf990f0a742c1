// Package handle implements a generation-indexed slot pool. It backs every
// opaque handle the runtime hands to user code: kernels, RW textures, and
// download tickets all share this allocator so that a destroyed-and-reused
// slot cannot be mistaken for the object a stale handle once pointed at.
package handle

import "errors"

// ErrInvalid is returned by Get/Remove when a Handle's index is out of
// range or its generation does not match the slot's current generation.
var ErrInvalid = errors.New("handle: invalid or stale handle")

// Handle is an opaque (index, generation) pair. The zero Handle never
// refers to a live slot: generation 0 is never assigned to an occupied slot.
type Handle struct {
	index      uint32
	generation uint32
}

// IsNil reports whether h is the zero Handle.
func (h Handle) IsNil() bool { return h.generation == 0 }

type slot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Pool is a dense generation-checked slot allocator for payload type T.
// Pool is not safe for concurrent use; callers that need concurrency must
// guard it externally (the façade is single-threaded per spec §5, so no
// internal locking is added here).
type Pool[T any] struct {
	slots    []slot[T]
	freeList []uint32
}

// New creates an empty pool with room for capacity slots without
// reallocating.
func New[T any](capacity int) *Pool[T] {
	return &Pool[T]{
		slots:    make([]slot[T], 0, capacity),
		freeList: make([]uint32, 0, capacity),
	}
}

// Insert stores value in a free slot (reusing one from the free list when
// available) and returns a Handle that remains valid until the slot is
// removed.
func (p *Pool[T]) Insert(value T) Handle {
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		s := &p.slots[idx]
		s.value = value
		s.occupied = true
		return Handle{index: idx, generation: s.generation}
	}

	idx := uint32(len(p.slots))
	p.slots = append(p.slots, slot[T]{value: value, generation: 1, occupied: true})
	return Handle{index: idx, generation: 1}
}

// Get returns the payload for h. ok is false if h is stale, nil, or out of
// range.
func (p *Pool[T]) Get(h Handle) (value T, ok bool) {
	if h.IsNil() || int(h.index) >= len(p.slots) {
		return value, false
	}
	s := &p.slots[h.index]
	if !s.occupied || s.generation != h.generation {
		return value, false
	}
	return s.value, true
}

// Remove releases h's slot back to the free list, bumping its generation so
// any outstanding copy of h becomes stale. Returns ErrInvalid if h is
// already stale or out of range.
func (p *Pool[T]) Remove(h Handle) error {
	if h.IsNil() || int(h.index) >= len(p.slots) {
		return ErrInvalid
	}
	s := &p.slots[h.index]
	if !s.occupied || s.generation != h.generation {
		return ErrInvalid
	}
	var zero T
	s.value = zero
	s.occupied = false
	s.generation++
	p.freeList = append(p.freeList, h.index)
	return nil
}

// Len returns the number of occupied slots.
func (p *Pool[T]) Len() int {
	return len(p.slots) - len(p.freeList)
}

// Each calls fn for every occupied slot's handle and value. fn must not
// insert into or remove from the pool.
func (p *Pool[T]) Each(fn func(Handle, T)) {
	for i := range p.slots {
		s := &p.slots[i]
		if s.occupied {
			fn(Handle{index: uint32(i), generation: s.generation}, s.value)
		}
	}
}
