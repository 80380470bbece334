// File: adapters/affinity_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package adapters binds the api contracts to the runtime's internals:
// CPU pinning for workers and the control surface.

package adapters

import (
	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/internal/concurrency"
)

// AffinityAdapter pins one worker thread. It is owned by the goroutine
// that calls Pin and must not be shared.
type AffinityAdapter struct {
	cpu, numa int
	locks     int // outstanding runtime.LockOSThread calls
}

var _ api.Affinity = (*AffinityAdapter)(nil)

func NewAffinityAdapter() *AffinityAdapter {
	return &AffinityAdapter{cpu: -1, numa: -1}
}

// Pin locks the goroutine to its thread and binds the thread to cpuID.
// Repinning moves the same thread. A failed affinity call leaves the
// thread locked so Unpin still balances it.
func (a *AffinityAdapter) Pin(cpuID int, numaID int) error {
	a.locks++
	if err := concurrency.PinCurrentThread(cpuID); err != nil {
		return api.NewError(api.ErrCodeNotSupported, "pin failed").
			WithContext("cpu", cpuID).Wrap(err)
	}
	a.cpu, a.numa = cpuID, numaID
	return nil
}

// Unpin drops every thread lock Pin took.
func (a *AffinityAdapter) Unpin() error {
	for ; a.locks > 0; a.locks-- {
		concurrency.UnpinCurrentThread()
	}
	a.cpu, a.numa = -1, -1
	return nil
}

func (a *AffinityAdapter) Get() (cpuID int, numaID int, err error) {
	return a.cpu, a.numa, nil
}
