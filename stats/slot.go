// File: stats/slot.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stats

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counter is a named monotonically increasing custom counter.
type Counter struct {
	v atomic.Uint64
}

func (c *Counter) Add(n uint64) { c.v.Add(n) }
func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Load() uint64 { return c.v.Load() }

// Gauge is a named point-in-time value such as an estimate or table size.
type Gauge struct {
	v atomic.Int64
}

func (g *Gauge) Set(v int64) { g.v.Store(v) }
func (g *Gauge) Load() int64 { return g.v.Load() }

// Slot holds the counters of one core.
type Slot struct {
	id int

	rxBufs    atomic.Uint64
	rxBytes   atomic.Uint64
	txBufs    atomic.Uint64
	txBytes   atomic.Uint64
	batches   atomic.Uint64
	execCalls atomic.Uint64
	drops     atomic.Uint64

	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	hists    map[string]*Histogram

	_ [64]byte // keep neighbouring slots off this cache line
}

func newSlot(id int) *Slot {
	return &Slot{
		id:       id,
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		hists:    make(map[string]*Histogram),
	}
}

// ID returns the slot index.
func (s *Slot) ID() int { return s.id }

// AddRx records n buffers totalling bytes dequeued from an input queue.
func (s *Slot) AddRx(n int, bytes int) {
	s.rxBufs.Add(uint64(n))
	s.rxBytes.Add(uint64(bytes))
}

// AddTx records n buffers totalling bytes enqueued to an output queue.
func (s *Slot) AddTx(n int, bytes int) {
	s.txBufs.Add(uint64(n))
	s.txBytes.Add(uint64(bytes))
}

// AddBatch records one batch fully handed downstream.
func (s *Slot) AddBatch() { s.batches.Add(1) }

// AddExec records one stage exec call.
func (s *Slot) AddExec() { s.execCalls.Add(1) }

// AddDrop records n buffers a stage consumed without forwarding.
func (s *Slot) AddDrop(n int) { s.drops.Add(uint64(n)) }

// Drops returns the drop count without taking a snapshot.
func (s *Slot) Drops() uint64 { return s.drops.Load() }

// Counter returns the named custom counter, creating it on first use.
// Intended for init time; lookups on the hot path should keep the pointer.
func (s *Slot) Counter(name string) *Counter {
	s.mu.RLock()
	c, ok := s.counters[name]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.counters[name]; ok {
		return c
	}
	c = &Counter{}
	s.counters[name] = c
	return c
}

// Gauge returns the named gauge, creating it on first use.
func (s *Slot) Gauge(name string) *Gauge {
	s.mu.RLock()
	g, ok := s.gauges[name]
	s.mu.RUnlock()
	if ok {
		return g
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok = s.gauges[name]; ok {
		return g
	}
	g = &Gauge{}
	s.gauges[name] = g
	return g
}

// Histogram returns the named latency histogram, creating it on first use.
func (s *Slot) Histogram(name string) *Histogram {
	s.mu.RLock()
	h, ok := s.hists[name]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.hists[name]; ok {
		return h
	}
	h = &Histogram{}
	s.hists[name] = h
	return h
}

// Snapshot is a point-in-time copy of one slot or of a total.
type Snapshot struct {
	Slot      int
	RxBufs    uint64
	RxBytes   uint64
	TxBufs    uint64
	TxBytes   uint64
	Batches   uint64
	ExecCalls uint64
	Drops     uint64
	Custom    map[string]uint64
	Gauges    map[string]int64
	Hists     map[string]*Histogram
}

// Snapshot copies the slot counters.
func (s *Slot) Snapshot() Snapshot {
	out := Snapshot{
		Slot:      s.id,
		RxBufs:    s.rxBufs.Load(),
		RxBytes:   s.rxBytes.Load(),
		TxBufs:    s.txBufs.Load(),
		TxBytes:   s.txBytes.Load(),
		Batches:   s.batches.Load(),
		ExecCalls: s.execCalls.Load(),
		Drops:     s.drops.Load(),
		Custom:    make(map[string]uint64),
		Gauges:    make(map[string]int64),
		Hists:     make(map[string]*Histogram),
	}
	s.mu.RLock()
	for k, c := range s.counters {
		out.Custom[k] = c.Load()
	}
	for k, g := range s.gauges {
		out.Gauges[k] = g.Load()
	}
	for k, h := range s.hists {
		out.Hists[k] = h
	}
	s.mu.RUnlock()
	return out
}

// CustomNames returns the sorted custom counter names of a snapshot.
func (s Snapshot) CustomNames() []string {
	names := make([]string, 0, len(s.Custom))
	for k := range s.Custom {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// GaugeNames returns the sorted gauge names of a snapshot.
func (s Snapshot) GaugeNames() []string {
	names := make([]string, 0, len(s.Gauges))
	for k := range s.Gauges {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// HistNames returns the sorted histogram names of a snapshot.
func (s Snapshot) HistNames() []string {
	names := make([]string, 0, len(s.Hists))
	for k := range s.Hists {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
