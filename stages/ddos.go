// File: stages/ddos.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Volumetric attack detection by bit-density entropy. For every packet the
// stage records the number of set bits and its binary entropy; once a full
// window has been seen, the sum of per-packet entropies is compared with the
// joint entropy of the window. A gap above the threshold raises an alert.

package stages

import (
	"encoding/binary"
	"math"
	"math/bits"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

const (
	ddosDefaultWindow    = 0xFFF
	ddosDefaultThreshold = 1200
)

// DDoS is the entropy-based attack detector.
type DDoS struct {
	env       *stage.Env
	threshold uint64
	drop      bool

	set     []uint32
	total   []uint32
	entropy []uint32
	head    int
	seen    uint64

	sumSet, sumTotal, sumEntropy uint64

	alerts   *stats.Counter
	attacked *stats.Counter
	gap      *stats.Gauge
	out      []api.Buffer
}

var _ stage.Stage = (*DDoS)(nil)

func (d *DDoS) Init(env *stage.Env) error {
	window, err := env.IntParam("window", ddosDefaultWindow)
	if err != nil {
		return err
	}
	thr, err := env.IntParam("threshold", ddosDefaultThreshold)
	if err != nil {
		return err
	}
	if window <= 0 || thr < 0 {
		return api.ConfigError("ddos: window must be positive and threshold non-negative").WithContext("stage", env.Type)
	}
	if d.drop, err = env.BoolParam("drop", false); err != nil {
		return err
	}
	d.env = env
	d.threshold = uint64(thr)
	d.set = make([]uint32, window)
	d.total = make([]uint32, window)
	d.entropy = make([]uint32, window)
	st := env.Stats()
	d.alerts = st.Counter("ddos.alerts")
	d.attacked = st.Counter("ddos.attack_packets")
	d.gap = st.Gauge("ddos.entropy_gap")
	d.out = make([]api.Buffer, 0, max(env.BatchSize, 1))
	return nil
}

func (d *DDoS) Exec(in []api.Buffer) []api.Buffer {
	d.out = d.out[:0]
	alerting := false
	for _, b := range in {
		data := b.Bytes()
		total := uint32(len(data) * 8)
		set := countBits(data)

		// slide the window
		d.sumSet += uint64(set) - uint64(d.set[d.head])
		d.sumTotal += uint64(total) - uint64(d.total[d.head])
		e := simpleEntropy(uint64(set), uint64(total))
		d.sumEntropy += uint64(e) - uint64(d.entropy[d.head])
		d.set[d.head], d.total[d.head], d.entropy[d.head] = set, total, e
		d.head = (d.head + 1) % len(d.set)
		d.seen++

		attack := false
		if d.seen >= uint64(len(d.set)) {
			joint := uint64(simpleEntropy(d.sumSet, d.sumTotal))
			var gap uint64
			if d.sumEntropy > joint {
				gap = d.sumEntropy - joint
			}
			d.gap.Set(int64(gap))
			attack = gap > d.threshold
		}
		if attack {
			d.attacked.Inc()
			if !alerting {
				alerting = true
				d.alerts.Inc()
				d.env.Log().Debug("entropy alert", zap.Int64("gap", d.gap.Load()))
			}
			if d.drop {
				b.Release()
				d.env.Stats().AddDrop(1)
				continue
			}
		}
		d.out = append(d.out, b)
	}
	return d.out
}

func (d *DDoS) Free() error {
	d.set, d.total, d.entropy, d.out = nil, nil, nil, nil
	return nil
}

func countBits(p []byte) uint32 {
	var n int
	for len(p) >= 8 {
		n += bits.OnesCount64(binary.LittleEndian.Uint64(p))
		p = p[8:]
	}
	for _, c := range p {
		n += bits.OnesCount8(c)
	}
	return uint32(n)
}

// simpleEntropy is the binary entropy of set ones among total bits, in
// bits, plus log2(total). Empty terms contribute zero.
func simpleEntropy(set, total uint64) uint32 {
	if total == 0 {
		return 0
	}
	t := float64(total)
	lt := math.Log2(t)
	h := lt
	if set > 0 {
		s := float64(set)
		h -= s * (math.Log2(s) - lt)
	}
	if set < total {
		u := float64(total - set)
		h -= u * (math.Log2(u) - lt)
	}
	if h < 0 || math.IsNaN(h) {
		return 0
	}
	if h > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(h)
}
