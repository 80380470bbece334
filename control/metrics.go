// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Last published pipeline metrics. The runtime copies counters out of the
// statistics table on a ticker; readers always get a private map.

package control

import (
	"maps"
	"sync"
	"time"
)

// MetricsRegistry holds the latest published metrics.
type MetricsRegistry struct {
	mu      sync.RWMutex
	values  map[string]any
	updated time.Time
}

func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{values: make(map[string]any)}
}

// Set publishes one value.
func (m *MetricsRegistry) Set(key string, value any) {
	m.SetMany(map[string]any{key: value})
}

// SetMany publishes a batch of values under one timestamp so a reader
// never sees half of a publish round.
func (m *MetricsRegistry) SetMany(values map[string]any) {
	now := time.Now()
	m.mu.Lock()
	maps.Copy(m.values, values)
	m.updated = now
	m.mu.Unlock()
}

func (m *MetricsRegistry) GetSnapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.values)
}

// Updated returns when the last publish happened, zero before the first.
func (m *MetricsRegistry) Updated() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updated
}
