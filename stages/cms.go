// File: stages/cms.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stages

import (
	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

const (
	cmsRows = 4
	cmsCols = 64 * 1024
)

// CMS counts per-flow packets in a count-min sketch keyed by 5-tuple and
// reports flows whose estimate reaches the heavy-hitter threshold.
type CMS struct {
	keys   flowKeyer
	sketch []uint64
	heavy  uint64

	flows        *stats.Counter
	heavyHitters *stats.Counter
}

var _ stage.Stage = (*CMS)(nil)

func (c *CMS) Init(env *stage.Env) error {
	heavy, err := env.IntParam("heavy_threshold", 1000)
	if err != nil {
		return err
	}
	if heavy <= 0 {
		return api.ConfigError("cms: heavy_threshold must be positive").WithContext("stage", env.Type)
	}
	c.heavy = uint64(heavy)
	c.keys = newFlowKeyer(env, "cms")
	c.sketch = make([]uint64, cmsRows*cmsCols)
	c.flows = env.Stats().Counter("cms.new_flows")
	c.heavyHitters = env.Stats().Counter("cms.heavy_hitters")
	return nil
}

func (c *CMS) Exec(in []api.Buffer) []api.Buffer {
	for _, b := range in {
		t, ok := c.keys.tuple(b)
		if !ok {
			continue
		}
		if est := c.update(t.Hash(0)); est == 1 {
			c.flows.Inc()
		} else if est == c.heavy {
			c.heavyHitters.Inc()
		}
	}
	return in
}

// update increments the flow in every row and returns the new estimate.
func (c *CMS) update(h uint64) uint64 {
	est := ^uint64(0)
	for row := uint64(0); row < cmsRows; row++ {
		// double hashing: h1 + row*h2
		idx := ((h & 0xffffffff) + row*(h>>32|1)) % cmsCols
		cell := &c.sketch[row*cmsCols+idx]
		*cell++
		est = min(est, *cell)
	}
	return est
}

// Estimate returns the current count estimate for a flow hash.
func (c *CMS) Estimate(h uint64) uint64 {
	est := ^uint64(0)
	for row := uint64(0); row < cmsRows; row++ {
		idx := ((h & 0xffffffff) + row*(h>>32|1)) % cmsCols
		est = min(est, c.sketch[row*cmsCols+idx])
	}
	return est
}

func (c *CMS) Free() error {
	c.sketch = nil
	return nil
}
