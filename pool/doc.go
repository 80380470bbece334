// Package pool
// Author: momentics <momentics@gmail.com>
//
// Packet memory layer for hioload-nf.
// Implements NUMA-segmented, lock-free, reference-counted packet buffer
// pooling, burst batching, and the bounded queues that connect stages.
// See packet.go, slab_pool.go, batch.go, buffer_ring.go for details.
package pool
