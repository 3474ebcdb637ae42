// Package arena provides a slab allocator for fixed-size records addressed
// by stable integer handles instead of pointers.
package arena

// Handle addresses one slot of a Slab. Handles stay valid until the slot is
// freed or the slab is reset.
type Handle int32

// Nil is the handle of no slot.
const Nil Handle = -1

const defaultSlabSize = 4096

// Slab hands out slots of T from pre-allocated chunks through a free list.
// It grows one chunk at a time, only when the free list is empty, and never
// shrinks except on Reset. A Slab is not safe for concurrent use.
type Slab[T any] struct {
	slabSize int
	slabs    [][]T
	free     []Handle
	numUsed  int
}

// NewSlab returns an allocator that grows by slabSize items.
func NewSlab[T any](slabSize int) *Slab[T] {
	s := &Slab[T]{}
	s.SetSlabSize(slabSize)
	return s
}

// SetSlabSize changes the growth unit. It must be called before first use.
func (s *Slab[T]) SetSlabSize(n int) {
	if len(s.slabs) != 0 {
		panic("arena: slab size must be set before use")
	}
	if n < 1 {
		panic("arena: slab size must be positive")
	}
	s.slabSize = n
}

func (s *Slab[T]) grow() {
	if s.slabSize == 0 {
		s.slabSize = defaultSlabSize
	}
	base := len(s.slabs) * s.slabSize
	s.slabs = append(s.slabs, make([]T, s.slabSize))
	// push in reverse so the lowest handle is popped first
	for i := s.slabSize - 1; i >= 0; i-- {
		s.free = append(s.free, Handle(base+i))
	}
}

func (s *Slab[T]) pop() Handle {
	n := len(s.free)
	if n == 0 {
		panic("arena: pop on empty free list")
	}
	h := s.free[n-1]
	s.free = s.free[:n-1]
	return h
}

// Alloc returns a zeroed slot.
func (s *Slab[T]) Alloc() Handle {
	if len(s.free) == 0 {
		s.grow()
	}
	h := s.pop()
	var zero T
	*s.Get(h) = zero
	s.numUsed++
	return h
}

// Free returns h to the free list.
func (s *Slab[T]) Free(h Handle) {
	s.numUsed--
	s.free = append(s.free, h)
}

// Get returns the slot addressed by h.
func (s *Slab[T]) Get(h Handle) *T {
	return &s.slabs[int(h)/s.slabSize][int(h)%s.slabSize]
}

// Reset drops every slab and the free list at once.
func (s *Slab[T]) Reset() {
	s.slabs = nil
	s.free = nil
	s.numUsed = 0
}

// NumUsed returns the number of allocated slots.
func (s *Slab[T]) NumUsed() int { return s.numUsed }

// NumFree returns the length of the free list.
func (s *Slab[T]) NumFree() int { return len(s.free) }

// NumSlabs returns the number of chunks currently held.
func (s *Slab[T]) NumSlabs() int { return len(s.slabs) }
