package search

import "github.com/brensch/neuralmcts/node"

// Trajectory records one descent from the root as (parent, child slot)
// edges, in descent order. It lives for at most one thread iteration.
type Trajectory []node.Edge

// FixedVector is a bounded append-only buffer that is reset, not
// reallocated, between iterations.
type FixedVector[T any] struct {
	items []T
	size  int
}

func NewFixedVector[T any](capacity int) *FixedVector[T] {
	return &FixedVector[T]{items: make([]T, capacity)}
}

// Add appends an element. Overflowing the capacity is a caller bug: the
// batch assembly loop conditions are supposed to prevent it.
func (f *FixedVector[T]) Add(item T) {
	if f.size == len(f.items) {
		panic("search: fixed vector overflow")
	}
	f.items[f.size] = item
	f.size++
}

func (f *FixedVector[T]) Get(i int) T { return f.items[i] }

func (f *FixedVector[T]) Len() int { return f.size }

func (f *FixedVector[T]) Full() bool { return f.size == len(f.items) }

func (f *FixedVector[T]) Cap() int { return len(f.items) }

// Reset forgets the contents without releasing the backing array.
func (f *FixedVector[T]) Reset() { f.size = 0 }
