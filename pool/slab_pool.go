// File: pool/slab_pool.go
// Package pool implements lock-free fixed-size packet allocation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/internal/concurrency"
)

var _ api.BufferPool = (*PacketPool)(nil)

// Default sizing for packet pools.
const (
	DefaultBufferSize   = 2048
	DefaultPoolCapacity = 8192
)

// PoolConfig sizes one PacketPool.
type PoolConfig struct {
	BufferSize int  // bytes per packet region
	Capacity   int  // free-list capacity
	Limit      int  // maximum live packets, 0 means unbounded
	Prealloc   bool // fill the free list at construction
}

// PacketPool hands out fixed-size packets from a lock-free free list.
// Packets that do not fit back into the free list are left to the GC.
type PacketPool struct {
	cfg  PoolConfig
	numa int
	free *concurrency.LockFreeQueue[*Packet]

	allocated     atomic.Int64
	acquired      atomic.Int64
	released      atomic.Int64
	doubleRelease atomic.Int64
	numaStats     *numaMap
}

// numaMap: allocation counters by NUMA node.
type numaMap struct {
	mu     sync.Mutex
	counts map[int]int64
}

func newNumaMap() *numaMap { return &numaMap{counts: make(map[int]int64)} }

func (m *numaMap) record(n int) {
	m.mu.Lock()
	m.counts[n]++
	m.mu.Unlock()
}

func (m *numaMap) snapshot() map[int]int64 {
	m.mu.Lock()
	out := make(map[int]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	m.mu.Unlock()
	return out
}

// NewPacketPool creates a pool for the given NUMA node (-1 for default).
func NewPacketPool(cfg PoolConfig, numaNode int) *PacketPool {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultPoolCapacity
	}
	if cfg.Limit > 0 && cfg.Capacity > cfg.Limit {
		cfg.Capacity = cfg.Limit
	}
	p := &PacketPool{
		cfg:       cfg,
		numa:      numaNode,
		free:      concurrency.NewLockFreeQueue[*Packet](cfg.Capacity),
		numaStats: newNumaMap(),
	}
	if cfg.Prealloc {
		for i := 0; i < cfg.Capacity; i++ {
			if !p.free.Enqueue(p.alloc()) {
				break
			}
		}
	}
	return p
}

func (sp *PacketPool) alloc() *Packet {
	sp.allocated.Add(1)
	sp.numaStats.record(sp.numa)
	return &Packet{data: make([]byte, sp.cfg.BufferSize), pool: sp, numa: sp.numa}
}

// BufferSize returns the capacity of every packet in this pool.
func (sp *PacketPool) BufferSize() int { return sp.cfg.BufferSize }

// Get returns a packet of the requested length with one reference, or nil
// when size exceeds BufferSize or the live-packet limit is reached.
func (sp *PacketPool) Get(size int, _ int) api.Buffer {
	if size < 0 || size > sp.cfg.BufferSize {
		return nil
	}
	p, ok := sp.free.Dequeue()
	if !ok {
		if sp.cfg.Limit > 0 && sp.InUse() >= int64(sp.cfg.Limit) {
			return nil
		}
		p = sp.alloc()
	}
	p.reset(size)
	sp.acquired.Add(1)
	return p
}

// GetPacket is Get without the interface conversion.
func (sp *PacketPool) GetPacket(size int) *Packet {
	b := sp.Get(size, sp.numa)
	if b == nil {
		return nil
	}
	return b.(*Packet)
}

func (sp *PacketPool) put(p *Packet) {
	sp.released.Add(1)
	sp.free.Enqueue(p)
}

// InUse returns packets acquired and not yet released.
func (sp *PacketPool) InUse() int64 {
	return sp.acquired.Load() - sp.released.Load()
}

// Stats returns a snapshot of the pool counters.
func (sp *PacketPool) Stats() api.BufferPoolStats {
	acq := sp.acquired.Load()
	rel := sp.released.Load()
	return api.BufferPoolStats{
		Allocated:     sp.allocated.Load(),
		Acquired:      acq,
		Released:      rel,
		InUse:         acq - rel,
		DoubleRelease: sp.doubleRelease.Load(),
		NUMAStats:     sp.numaStats.snapshot(),
	}
}
