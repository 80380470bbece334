// File: stages/hll.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stages

import (
	"math"
	"math/bits"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

// HLL estimates the number of distinct flows with a HyperLogLog sketch.
// The estimate is published once per batch.
type HLL struct {
	keys      flowKeyer
	precision uint8
	registers []uint8

	estimate *stats.Gauge
}

var _ stage.Stage = (*HLL)(nil)

func (h *HLL) Init(env *stage.Env) error {
	p, err := env.IntParam("precision", 16)
	if err != nil {
		return err
	}
	if p < 4 || p > 18 {
		return api.ConfigError("hll: precision %d outside [4,18]", p).WithContext("stage", env.Type)
	}
	h.precision = uint8(p)
	h.registers = make([]uint8, 1<<p)
	h.keys = newFlowKeyer(env, "hll")
	h.estimate = env.Stats().Gauge("hll.distinct_flows")
	return nil
}

func (h *HLL) Exec(in []api.Buffer) []api.Buffer {
	if len(in) == 0 {
		return in
	}
	for _, b := range in {
		if t, ok := h.keys.tuple(b); ok {
			h.add(t.Hash(0x9e3779b97f4a7c15))
		}
	}
	h.estimate.Set(int64(h.Count()))
	return in
}

func (h *HLL) add(x uint64) {
	p := h.precision
	idx := x >> (64 - p)
	w := x<<p | 1<<(p-1)
	rank := uint8(bits.LeadingZeros64(w)) + 1
	if rank > h.registers[idx] {
		h.registers[idx] = rank
	}
}

// Count returns the cardinality estimate.
func (h *HLL) Count() uint64 {
	m := float64(len(h.registers))
	var sum float64
	zeros := 0
	for _, r := range h.registers {
		sum += math.Ldexp(1, -int(r))
		if r == 0 {
			zeros++
		}
	}
	alpha := 0.7213 / (1 + 1.079/m)
	switch len(h.registers) {
	case 16:
		alpha = 0.673
	case 32:
		alpha = 0.697
	case 64:
		alpha = 0.709
	}
	est := alpha * m * m / sum
	if est <= 2.5*m && zeros > 0 {
		est = m * math.Log(m/float64(zeros))
	}
	return uint64(est + 0.5)
}

func (h *HLL) Free() error {
	h.registers = nil
	return nil
}
