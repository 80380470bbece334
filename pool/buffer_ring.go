// Package pool adapts the internal concurrency rings as api.Queue.
//
// BufferRing is a thin wrapper over concurrency.RingBuffer (SPSC) or
// concurrency.LockFreeQueue (MPMC), fixed at construction.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/internal/concurrency"
)

// Ensure compile-time compliance.
var _ api.Queue = (*BufferRing)(nil)

type burstRing interface {
	EnqueueBatch([]api.Buffer) int
	DequeueBatch([]api.Buffer) int
	Len() int
	Cap() int
}

// BufferRing is a bounded FIFO of packet buffers.
type BufferRing struct {
	name string
	disc api.Discipline
	ring burstRing
}

// NewBufferRing creates a queue; capacity is rounded up to a power of two.
func NewBufferRing(name string, capacity int, disc api.Discipline) *BufferRing {
	size := concurrency.NextPowerOfTwo(uint64(max(capacity, 2)))
	var r burstRing
	if disc == api.MPMC {
		r = concurrency.NewLockFreeQueue[api.Buffer](int(size))
	} else {
		disc = api.SPSC
		r = concurrency.NewRingBuffer[api.Buffer](size)
	}
	return &BufferRing{name: name, disc: disc, ring: r}
}

func (q *BufferRing) Name() string                    { return q.name }
func (q *BufferRing) Discipline() api.Discipline      { return q.disc }
func (q *BufferRing) Len() int                        { return q.ring.Len() }
func (q *BufferRing) Cap() int                        { return q.ring.Cap() }
func (q *BufferRing) EnqueueBurst(b []api.Buffer) int { return q.ring.EnqueueBatch(b) }
func (q *BufferRing) DequeueBurst(b []api.Buffer) int { return q.ring.DequeueBatch(b) }

// Sweep dequeues and releases everything left in q. It must only run once
// producers and consumers have stopped. Returns the number released.
func Sweep(q api.Queue) int {
	batch := NewBufferBatch(64)
	total := 0
	for {
		n := batch.Fill(q)
		if n == 0 {
			return total
		}
		batch.Release()
		total += n
	}
}
