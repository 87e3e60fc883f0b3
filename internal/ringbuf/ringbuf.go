// File: internal/ringbuf/ringbuf.go
// Package ringbuf implements a bounded circular buffer with atomic
// head/tail, padded to prevent false sharing.
//
// The fake queue backend stores pending descriptors in one of these;
// its capacity doubles as the ring's free-space accounting.

package ringbuf

import "sync/atomic"

// Ring is a bounded ring buffer (single-producer, single-consumer safe).
type Ring[T any] struct {
	data []T
	mask uint64
	head atomic.Uint64
	_    [64]byte // Padding for hot/cold separation
	tail atomic.Uint64
	_    [64]byte // Padding to separate tail from other data
}

// New allocates a ring buffer of power-of-two size.
func New[T any](size uint64) *Ring[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("size must be power of two")
	}
	return &Ring[T]{
		data: make([]T, size),
		mask: size - 1,
	}
}

// Enqueue adds item; returns false if full.
func (r *Ring[T]) Enqueue(item T) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if tail-head >= uint64(len(r.data)) {
		return false
	}
	r.data[tail&r.mask] = item
	r.tail.Store(tail + 1)
	return true
}

// Dequeue removes and returns the oldest item; ok false if empty.
func (r *Ring[T]) Dequeue() (T, bool) {
	head := r.head.Load()
	tail := r.tail.Load()
	if head >= tail {
		var zero T
		return zero, false
	}
	item := r.data[head&r.mask]
	r.head.Store(head + 1)
	return item, true
}

// Len returns the number of items currently in the buffer.
func (r *Ring[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	return int(tail - head)
}

// Cap returns the fixed buffer capacity.
func (r *Ring[T]) Cap() int {
	return len(r.data)
}
