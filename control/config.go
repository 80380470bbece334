// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with validated updates and reload propagation.

package control

import (
	"maps"
	"slices"
	"sync"
)

// ConfigStore is a dynamic key/value map with snapshot reads and listener
// support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	validate  func(map[string]any) error
	listeners []func(changed []string)
}

// NewConfigStore initializes a store holding a copy of initial.
func NewConfigStore(initial map[string]any) *ConfigStore {
	cs := &ConfigStore{config: make(map[string]any, len(initial))}
	maps.Copy(cs.config, initial)
	return cs
}

// SetValidator installs a check run on every update before it is applied.
func (cs *ConfigStore) SetValidator(fn func(map[string]any) error) {
	cs.mu.Lock()
	cs.validate = fn
	cs.mu.Unlock()
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return maps.Clone(cs.config)
}

// Get returns one value.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// SetConfig validates and merges newCfg, then calls every listener with
// the sorted list of keys that were written. Listeners run on the caller's
// goroutine after the lock is released. A rejected update changes nothing.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) error {
	cs.mu.Lock()
	if cs.validate != nil {
		if err := cs.validate(newCfg); err != nil {
			cs.mu.Unlock()
			return err
		}
	}
	maps.Copy(cs.config, newCfg)
	listeners := slices.Clone(cs.listeners)
	cs.mu.Unlock()

	changed := slices.Sorted(maps.Keys(newCfg))
	for _, fn := range listeners {
		fn(changed)
	}
	return nil
}

// OnChange registers a listener called after each accepted update.
func (cs *ConfigStore) OnChange(fn func(changed []string)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
