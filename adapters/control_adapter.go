// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control interface using control package primitives.

package adapters

import (
	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/control"
)

// ControlAdapter bundles the config store, metrics registry, debug probes
// and reload hooks of one runtime.
type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
	reload  control.Reloader
}

var _ api.Control = (*ControlAdapter)(nil)

// NewControlAdapter creates an adapter with the platform probes registered.
func NewControlAdapter() *ControlAdapter {
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(nil),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

// SetConfig applies cfg and fires the reload hooks. A rejected update
// fires nothing.
func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	if err := c.config.SetConfig(cfg); err != nil {
		return err
	}
	c.reload.Trigger()
	return nil
}

// SetValidator installs the check run before every SetConfig.
func (c *ControlAdapter) SetValidator(fn func(map[string]any) error) {
	c.config.SetValidator(fn)
}

// ConfigValue returns one config key.
func (c *ControlAdapter) ConfigValue(key string) (any, bool) {
	return c.config.Get(key)
}

// Stats merges the metrics snapshot with every probe under "debug.".
func (c *ControlAdapter) Stats() map[string]any {
	combined := c.metrics.GetSnapshot()
	for k, v := range c.debug.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) OnReload(fn func()) {
	c.reload.Register(fn)
}

func (c *ControlAdapter) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}

// SetMetrics publishes several metrics at once.
func (c *ControlAdapter) SetMetrics(values map[string]any) {
	c.metrics.SetMany(values)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// Probe evaluates a single debug probe.
func (c *ControlAdapter) Probe(name string) (any, bool) {
	return c.debug.Probe(name)
}

// ProbeNames lists the registered probes.
func (c *ControlAdapter) ProbeNames() []string {
	return c.debug.Names()
}
