// control/hotreload.go
// Reload hooks fired after a configuration change has been applied.

package control

import "sync"

// Reloader keeps component reload listeners.
type Reloader struct {
	mu    sync.Mutex
	hooks []func()
}

// Register adds a component reload listener.
func (r *Reloader) Register(fn func()) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Trigger invokes every hook in registration order on the caller's
// goroutine.
func (r *Reloader) Trigger() {
	r.mu.Lock()
	hooks := append([]func(){}, r.hooks...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Len returns the number of hooks.
func (r *Reloader) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}
