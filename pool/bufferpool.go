// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
//
// NUMA-segmented PacketPool manager.

package pool

import (
	"sync"

	"github.com/momentics/hioload-nf/api"
)

// BufferPoolManager provides NUMA-segmented pools for each NUMA node.
type BufferPoolManager struct {
	mu    sync.RWMutex
	cfg   PoolConfig
	pools map[int]*PacketPool // Key: NUMA node (-1 for system default)
}

// NewBufferPoolManager creates a manager whose pools share one config.
func NewBufferPoolManager(cfg PoolConfig) *BufferPoolManager {
	return &BufferPoolManager{
		cfg:   cfg,
		pools: make(map[int]*PacketPool),
	}
}

// GetPool obtains or creates a NUMA-specific pool.
func (m *BufferPoolManager) GetPool(numaNode int) *PacketPool {
	m.mu.RLock()
	p, ok := m.pools[numaNode]
	m.mu.RUnlock()
	if ok {
		return p
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[numaNode]; ok {
		return p
	}
	p = NewPacketPool(m.cfg, numaNode)
	m.pools[numaNode] = p
	return p
}

// Stats sums counters over every node.
func (m *BufferPoolManager) Stats() api.BufferPoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := api.BufferPoolStats{NUMAStats: make(map[int]int64)}
	for _, p := range m.pools {
		s := p.Stats()
		out.Allocated += s.Allocated
		out.Acquired += s.Acquired
		out.Released += s.Released
		out.InUse += s.InUse
		out.DoubleRelease += s.DoubleRelease
		for k, v := range s.NUMAStats {
			out.NUMAStats[k] += v
		}
	}
	return out
}

// InUse returns live packets across every node.
func (m *BufferPoolManager) InUse() int64 {
	return m.Stats().InUse
}
