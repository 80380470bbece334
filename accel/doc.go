// Package accel
// Author: momentics <momentics@gmail.com>
//
// Asynchronous accelerator offload for pipeline stages.
//
// Adapter implements the submit/collect pattern shared by every
// accelerator-backed stage: input buffers are bound to a fixed pool of
// operation slots, submitted in chunks no larger than the free-slot count,
// and collected independently of submission, possibly in later Exec calls.
// The outstanding count (submitted and not yet collected) never exceeds the
// pool size and converges to zero once input stops, which is what Drain
// relies on at shutdown.
//
// Engine is a software accelerator: a set of goroutine workers behind
// per-instance QueuePairs that complete operations out of order. The
// compression and regex engines are built on it.
package accel
