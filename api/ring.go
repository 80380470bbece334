// Package api
// Author: momentics@gmail.com
//
// Lock-free ring buffer and bounded packet queue contracts.

package api

// Ring is a lock-free ring buffer contract.
type Ring[T any] interface {
	// Enqueue adds an item, returns false if full.
	Enqueue(item T) bool
	// Dequeue removes oldest item, returns false if empty.
	Dequeue() (T, bool)
	// Len returns current number of items.
	Len() int
	// Cap returns buffer capacity.
	Cap() int
}

// Discipline selects the producer/consumer model of a queue.
type Discipline int

const (
	// SPSC allows exactly one producer and one consumer.
	SPSC Discipline = iota
	// MPMC allows any number of producers and consumers.
	MPMC
)

func (d Discipline) String() string {
	switch d {
	case SPSC:
		return "spsc"
	case MPMC:
		return "mpmc"
	default:
		return "unknown"
	}
}

// Queue is a fixed-capacity FIFO of packet buffers connecting two stage
// instances. Both directions are non-blocking.
type Queue interface {
	// Name identifies the queue in logs and stats.
	Name() string
	// EnqueueBurst appends as many buffers as fit and returns that count.
	// Buffers past the returned count remain owned by the caller.
	EnqueueBurst(bufs []Buffer) int
	// DequeueBurst fills dst with up to len(dst) buffers and returns the count.
	DequeueBurst(dst []Buffer) int
	// Len returns the current number of queued buffers.
	Len() int
	// Cap returns the fixed capacity.
	Cap() int
	// Discipline reports the producer/consumer model fixed at construction.
	Discipline() Discipline
}
