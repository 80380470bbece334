// File: api/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control is the runtime's management surface: a flat configuration
// snapshot that accepts a limited set of live changes, the last published
// pipeline metrics and named debug probes.
type Control interface {
	// GetConfig returns a copy of the flattened configuration.
	GetConfig() map[string]any
	// SetConfig validates and merges the given keys, then runs the reload
	// hooks. Keys that cannot change while running yield ErrConfig.
	SetConfig(cfg map[string]any) error
	// Stats returns published metrics and probe results.
	Stats() map[string]any
	// OnReload registers a hook run after every accepted SetConfig.
	OnReload(fn func())
	RegisterDebugProbe(name string, fn func() any)
}
