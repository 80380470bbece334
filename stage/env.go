// File: stage/env.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stage

import (
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/accel"
	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/pool"
	"github.com/momentics/hioload-nf/stats"
)

// Env is the per-instance environment handed to Init.
type Env struct {
	Type      string
	Layer     int
	Instance  int
	CoreID    int
	StatsSlot int
	BatchSize int

	Logger *zap.Logger
	Pool   *pool.PacketPool
	Slot   *stats.Slot
	Shared *Shared
	Params map[string]string

	// Registry resolves sub-stage types for composites.
	Registry *Registry
}

// Child derives the environment of a composite's sub-stage.
func (e *Env) Child(typ string) *Env {
	c := *e
	c.Type = typ
	if e.Logger != nil {
		c.Logger = e.Logger.Named(typ)
	}
	return &c
}

// Log returns the environment logger or a no-op logger.
func (e *Env) Log() *zap.Logger {
	if e == nil || e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Stats returns the stats slot, allocating a private one when unset.
func (e *Env) Stats() *stats.Slot {
	if e.Slot == nil {
		e.Slot = stats.NewTable(1).Slot(0)
	}
	return e.Slot
}

// Param returns the named parameter, prefixed lookups first:
// "<type>.<name>" overrides "<name>".
func (e *Env) Param(name, def string) string {
	if e.Params == nil {
		return def
	}
	if v, ok := e.Params[e.Type+"."+name]; ok {
		return v
	}
	if v, ok := e.Params[name]; ok {
		return v
	}
	return def
}

// IntParam parses an integer parameter.
func (e *Env) IntParam(name string, def int) (int, error) {
	v := e.Param(name, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, api.ConfigError("stage %s: parameter %s=%q", e.Type, name, v).WithContext("stage", e.Type)
	}
	return n, nil
}

// BoolParam parses a boolean parameter.
func (e *Env) BoolParam(name string, def bool) (bool, error) {
	v := e.Param(name, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, api.ConfigError("stage %s: parameter %s=%q", e.Type, name, v).WithContext("stage", e.Type)
	}
	return b, nil
}

// Shared holds resources built once and shared by every stage instance:
// the accelerator device set and keyed read-only resources such as rule
// tables. Acquire is meant for Init; the hot path only reads.
type Shared struct {
	Devices *accel.Devices

	mu        sync.Mutex
	resources map[string]any
}

// NewShared creates a shared-resource handle.
func NewShared(devices *accel.Devices) *Shared {
	return &Shared{Devices: devices, resources: make(map[string]any)}
}

// Acquire returns the resource under key, building it on first use.
// A failed build is not cached. On a nil Shared every call builds.
func (s *Shared) Acquire(key string, build func() (any, error)) (any, error) {
	if s == nil {
		return build()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resources == nil {
		s.resources = make(map[string]any)
	}
	if v, ok := s.resources[key]; ok {
		return v, nil
	}
	v, err := build()
	if err != nil {
		return nil, fmt.Errorf("shared %s: %w", key, err)
	}
	s.resources[key] = v
	return v, nil
}

// OpenDevice opens a private queue pair on the kind accelerator.
func (s *Shared) OpenDevice(kind string, depth int) (api.AcceleratorDevice, error) {
	if s == nil || s.Devices == nil {
		return nil, api.ConfigError("accelerator %q requested but no devices configured", kind)
	}
	return s.Devices.Open(kind, depth)
}
