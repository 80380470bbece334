// File: stage/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stage

import (
	"sort"
	"sync"

	"github.com/momentics/hioload-nf/api"
)

// Registry maps stage-type identifiers to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register installs ctor under typ. Registering a type twice is an error.
func (r *Registry) Register(typ string, ctor Constructor) error {
	if typ == "" || ctor == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "stage: empty type or nil constructor").WithContext("type", typ)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ctors[typ]; dup {
		return api.NewError(api.ErrCodeAlreadyExists, "stage: type already registered").WithContext("type", typ)
	}
	r.ctors[typ] = ctor
	return nil
}

// MustRegister is Register that panics, for static registration tables.
func (r *Registry) MustRegister(typ string, ctor Constructor) {
	if err := r.Register(typ, ctor); err != nil {
		panic(err)
	}
}

// New creates an uninitialised instance of typ.
func (r *Registry) New(typ string) (Stage, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, api.Errorf(api.ErrCodeUnknownStage, "stage: unknown type %q", typ).WithContext("stage", typ)
	}
	return ctor(), nil
}

// Has reports whether typ is registered.
func (r *Registry) Has(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[typ]
	return ok
}

// Types lists registered types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for t := range r.ctors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
