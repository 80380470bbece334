// File: stats/histogram.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Log2-bucketed latency histogram. Observations are lock-free; summaries
// are computed from bucket midpoints with gonum/stat.

package stats

import (
	"math"
	"math/bits"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"
)

// NumBuckets covers every uint64 value: bucket 0 holds 0, bucket i holds
// [2^(i-1), 2^i).
const NumBuckets = 65

// Histogram counts observations in power-of-two buckets.
type Histogram struct {
	buckets [NumBuckets]atomic.Uint64
	count   atomic.Uint64
	sum     atomic.Uint64
	max     atomic.Uint64
}

// Observe records v.
func (h *Histogram) Observe(v uint64) {
	h.buckets[bits.Len64(v)].Add(1)
	h.count.Add(1)
	h.sum.Add(v)
	for {
		m := h.max.Load()
		if v <= m || h.max.CompareAndSwap(m, v) {
			return
		}
	}
}

// ObserveDuration records d in nanoseconds; negative durations count as 0.
func (h *Histogram) ObserveDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	h.Observe(uint64(d))
}

// Sum returns the sum of all observations.
func (h *Histogram) Sum() uint64 { return h.sum.Load() }

// Count returns the number of observations.
func (h *Histogram) Count() uint64 { return h.count.Load() }

// Merge adds other's observations into h.
func (h *Histogram) Merge(other *Histogram) {
	for i := range other.buckets {
		if n := other.buckets[i].Load(); n > 0 {
			h.buckets[i].Add(n)
		}
	}
	h.count.Add(other.count.Load())
	h.sum.Add(other.sum.Load())
	om := other.max.Load()
	for {
		m := h.max.Load()
		if om <= m || h.max.CompareAndSwap(m, om) {
			break
		}
	}
}

// Buckets returns upper bounds and cumulative counts of non-empty prefix
// buckets, suitable for prometheus const histograms.
func (h *Histogram) Buckets() map[float64]uint64 {
	out := make(map[float64]uint64)
	var cum uint64
	for i := range h.buckets {
		n := h.buckets[i].Load()
		cum += n
		if n == 0 {
			continue
		}
		out[bucketUpper(i)] = cum
	}
	return out
}

// Summary describes a histogram in the original unit.
type Summary struct {
	Count  uint64
	Mean   float64
	StdDev float64
	P50    float64
	P90    float64
	P99    float64
	Max    uint64
}

// Summary computes weighted statistics over bucket midpoints.
func (h *Histogram) Summary() Summary {
	s := Summary{Count: h.count.Load(), Max: h.max.Load()}
	if s.Count == 0 {
		return s
	}
	var xs, ws []float64
	for i := range h.buckets {
		if n := h.buckets[i].Load(); n > 0 {
			xs = append(xs, bucketMid(i))
			ws = append(ws, float64(n))
		}
	}
	s.Mean = float64(h.sum.Load()) / float64(s.Count)
	if s.Count > 1 {
		s.StdDev = stat.StdDev(xs, ws)
		if math.IsNaN(s.StdDev) {
			s.StdDev = 0
		}
	}
	s.P50 = stat.Quantile(0.50, stat.Empirical, xs, ws)
	s.P90 = stat.Quantile(0.90, stat.Empirical, xs, ws)
	s.P99 = stat.Quantile(0.99, stat.Empirical, xs, ws)
	return s
}

func bucketUpper(i int) float64 {
	if i == 0 {
		return 0
	}
	return math.Ldexp(1, i) - 1
}

func bucketMid(i int) float64 {
	if i == 0 {
		return 0
	}
	lo := math.Ldexp(1, i-1)
	return (lo + bucketUpper(i)) / 2
}
