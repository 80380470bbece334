// File: facade/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/adapters"
	"github.com/momentics/hioload-nf/api"
)

// Keys accepted by a runtime reload.
const (
	KeyStatsInterval = "stats.interval"
)

func (r *Runtime) initControl() {
	c := adapters.NewControlAdapter()
	snap := r.cfg.Map()
	snap["run.id"] = r.id
	_ = c.SetConfig(snap)
	c.SetValidator(validateReload)
	c.OnReload(r.applyReload)

	c.RegisterDebugProbe("pipeline.topology", func() any { return r.topo.Describe() })
	c.RegisterDebugProbe("pipeline.outstanding", func() any { return r.topo.Outstanding() })
	c.RegisterDebugProbe("pipeline.queue_depths", func() any { return r.queueDepths() })
	c.RegisterDebugProbe("pipeline.state", func() any { return r.State().String() })
	c.RegisterDebugProbe("pool.stats", func() any { return r.pools.Stats() })
	r.control = c
}

func (r *Runtime) queueDepths() map[string]int {
	qs := r.topo.Queues()
	out := make(map[string]int, len(qs))
	for _, q := range qs {
		out[q.Name()] = q.Len()
	}
	return out
}

// validateReload admits only the keys a running pipeline can apply.
func validateReload(m map[string]any) error {
	for k, v := range m {
		switch k {
		case KeyStatsInterval:
			s, ok := v.(string)
			if !ok {
				return api.ConfigError("reload: %s must be a duration string", k).WithContext("key", k)
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return api.ConfigError("reload: bad %s %q", k, s).WithContext("key", k).Wrap(err)
			}
			if d < 0 {
				return api.ConfigError("reload: %s must not be negative", k).WithContext("key", k)
			}
		default:
			return api.ConfigError("reload: %s cannot change at runtime", k).WithContext("key", k)
		}
	}
	return nil
}

func (r *Runtime) applyReload() {
	v, ok := r.control.ConfigValue(KeyStatsInterval)
	if !ok {
		return
	}
	s, _ := v.(string)
	d, err := time.ParseDuration(s)
	if err != nil || d == r.reporter.Interval() {
		return
	}
	r.reporter.SetInterval(d)
	r.log.Info("stats interval retuned", zap.Duration("interval", d))
}
