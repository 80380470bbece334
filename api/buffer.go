// Package api
// Author: momentics
//
// Reference-counted packet buffers and NUMA-aware pooling.
//
// A buffer is owned by exactly one queue or one in-flight accelerator
// operation at a time. Retain is called when an asynchronous operation must
// outlive the current call; Release drops one reference and returns the
// buffer to its pool when the count reaches zero.

package api

import "time"

// PacketMeta carries per-packet auxiliary fields.
type PacketMeta struct {
	Seq    uint64    // sequence number stamped at the head of the pipeline
	RxTime time.Time // when the buffer entered the head queue
	TxTime time.Time // when the buffer left the tail queue
	JobID  uint32    // accelerator job id of the last offload round trip
	Port   uint16    // ingress port or source index
}

// Buffer describes a reference-counted packet region.
type Buffer interface {
	// Bytes returns the packet data, Len() bytes long.
	Bytes() []byte

	// Len returns the current packet length.
	Len() int

	// SetLen resizes the packet within its capacity.
	SetLen(n int)

	// Cap returns the capacity of the underlying region.
	Cap() int

	// Meta exposes the mutable per-packet fields.
	Meta() *PacketMeta

	// Retain adds one reference.
	Retain()

	// Release drops one reference. At zero the buffer returns to its pool
	// and must not be used afterwards.
	Release()

	// RefCount returns the current reference count.
	RefCount() int32

	// NUMANode returns the NUMA node this buffer was allocated from.
	NUMANode() int
}

// BufferPool abstracts packet buffer management.
type BufferPool interface {
	// Get returns a buffer with Len() == size and one reference.
	// Returns nil if size exceeds the pool's buffer capacity.
	Get(size int, numaPreferred int) Buffer

	// Stats exposes accounting counters for observability.
	Stats() BufferPoolStats
}

// BufferPoolStats aggregates buffer allocation and reuse counters.
type BufferPoolStats struct {
	Allocated     int64 // buffers created from the heap
	Acquired      int64 // successful Get calls
	Released      int64 // buffers returned at refcount zero
	InUse         int64 // Acquired - Released
	DoubleRelease int64 // Release calls on an already free buffer
	NUMAStats     map[int]int64
}
