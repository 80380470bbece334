// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for the packet pipeline: bounded lock-free rings
// (single-producer/single-consumer and multi-producer/multi-consumer),
// OS thread pinning, and an adaptive idle backoff for polling loops.
package concurrency
