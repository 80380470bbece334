// File: internal/concurrency/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-producer/single-consumer ring. Each side keeps a private copy of
// the other side's index and reloads it only when the copy says the ring
// is full (producer) or empty (consumer), so the shared cache lines are
// touched once per burst rather than once per item.

package concurrency

import (
	"sync/atomic"

	"github.com/momentics/hioload-nf/api"
)

var _ api.Ring[any] = (*RingBuffer[any])(nil)

// RingBuffer is a bounded SPSC ring of power-of-two size.
type RingBuffer[T any] struct {
	data []T
	mask uint64

	// consumer side
	head       atomic.Uint64
	cachedTail uint64
	_          [48]byte

	// producer side
	tail       atomic.Uint64
	cachedHead uint64
	_          [48]byte
}

// NewRingBuffer allocates a ring; size must be a power of two.
func NewRingBuffer[T any](size uint64) *RingBuffer[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("concurrency: ring size must be a power of two")
	}
	return &RingBuffer[T]{data: make([]T, size), mask: size - 1}
}

// free returns producer-visible free slots, refreshing the cached head
// when fewer than want appear free.
func (r *RingBuffer[T]) free(tail, want uint64) uint64 {
	size := uint64(len(r.data))
	if f := size - (tail - r.cachedHead); f >= want {
		return f
	}
	r.cachedHead = r.head.Load()
	return size - (tail - r.cachedHead)
}

// avail returns consumer-visible items, refreshing the cached tail when
// fewer than want appear available.
func (r *RingBuffer[T]) avail(head, want uint64) uint64 {
	if a := r.cachedTail - head; a >= want {
		return a
	}
	r.cachedTail = r.tail.Load()
	return r.cachedTail - head
}

func (r *RingBuffer[T]) Enqueue(item T) bool {
	tail := r.tail.Load()
	if r.free(tail, 1) == 0 {
		return false
	}
	r.data[tail&r.mask] = item
	r.tail.Store(tail + 1)
	return true
}

// EnqueueBatch publishes as many items as fit with one tail store and
// returns the count.
func (r *RingBuffer[T]) EnqueueBatch(items []T) int {
	tail := r.tail.Load()
	n := min(uint64(len(items)), r.free(tail, uint64(len(items))))
	for i := range n {
		r.data[(tail+i)&r.mask] = items[i]
	}
	if n > 0 {
		r.tail.Store(tail + n)
	}
	return int(n)
}

func (r *RingBuffer[T]) Dequeue() (T, bool) {
	var zero T
	head := r.head.Load()
	if r.avail(head, 1) == 0 {
		return zero, false
	}
	slot := &r.data[head&r.mask]
	item := *slot
	*slot = zero
	r.head.Store(head + 1)
	return item, true
}

// DequeueBatch fills dst and frees the slots with one head store. Slots
// are zeroed so the ring keeps nothing reachable.
func (r *RingBuffer[T]) DequeueBatch(dst []T) int {
	var zero T
	head := r.head.Load()
	n := min(uint64(len(dst)), r.avail(head, uint64(len(dst))))
	for i := range n {
		slot := &r.data[(head+i)&r.mask]
		dst[i] = *slot
		*slot = zero
	}
	if n > 0 {
		r.head.Store(head + n)
	}
	return int(n)
}

// Len is exact only when neither side is active.
func (r *RingBuffer[T]) Len() int {
	head := r.head.Load()
	return int(r.tail.Load() - head)
}

func (r *RingBuffer[T]) Cap() int { return len(r.data) }

// NextPowerOfTwo rounds v up to a power of two, minimum 1.
func NextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	n := uint64(1)
	for n < v {
		n <<= 1
	}
	return n
}
