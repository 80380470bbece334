// Package fake
// Author: momentics <momentics@gmail.com>
//
// Scriptable accelerator device for adapter and drain tests.

package fake

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-nf/api"
)

// Device is an in-memory api.AcceleratorDevice. Submitted operations wait
// for DeferCollects collect calls before they become collectable, and each
// Collect returns at most PerCollect of them. Status decides each
// operation's outcome.
type Device struct {
	mu sync.Mutex

	Kind          string
	Accept        int // max ops accepted per Submit, 0 for unlimited
	PerCollect    int // max completions per Collect, 0 for unlimited
	DeferCollects int // collect calls an op waits before completing
	Reverse       bool
	Status        func(op *api.Op) api.OpStatus
	Never         bool // never complete anything

	pending  []pendingOp
	calls    []string
	stopped  bool
	children []*Device

	Submitted int
	Collected int
}

type pendingOp struct {
	op   *api.Op
	wait int
}

var _ api.AcceleratorDevice = (*Device)(nil)

// NewDevice returns a device completing everything on the next collect.
func NewDevice(kind string) *Device {
	return &Device{Kind: kind}
}

func (d *Device) Name() string { return d.Kind }

func (d *Device) Submit(ops []*api.Op) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		d.calls = append(d.calls, "submit(0)")
		return 0
	}
	n := len(ops)
	if d.Accept > 0 && n > d.Accept {
		n = d.Accept
	}
	for _, op := range ops[:n] {
		d.pending = append(d.pending, pendingOp{op: op, wait: d.DeferCollects})
	}
	d.Submitted += n
	d.calls = append(d.calls, fmt.Sprintf("submit(%d)", n))
	return n
}

func (d *Device) Collect(dst []*api.Op) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	limit := len(dst)
	if d.PerCollect > 0 && d.PerCollect < limit {
		limit = d.PerCollect
	}
	n := 0
	if !d.Never {
		order := make([]int, 0, len(d.pending))
		for i := range d.pending {
			order = append(order, i)
		}
		if d.Reverse {
			for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
				order[i], order[j] = order[j], order[i]
			}
		}
		taken := make(map[int]bool)
		for _, i := range order {
			if n == limit {
				break
			}
			p := &d.pending[i]
			if p.wait > 0 {
				continue
			}
			op := p.op
			op.Status = api.OpSuccess
			if d.Status != nil {
				op.Status = d.Status(op)
			}
			op.CompletedAt = time.Now()
			dst[n] = op
			n++
			taken[i] = true
		}
		kept := d.pending[:0]
		for i, p := range d.pending {
			if taken[i] {
				continue
			}
			if p.wait > 0 {
				p.wait--
			}
			kept = append(kept, p)
		}
		d.pending = kept
	}
	d.Collected += n
	d.calls = append(d.calls, fmt.Sprintf("collect(%d)", n))
	return n
}

func (d *Device) Stop() error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	return nil
}

// Pending returns ops submitted and not yet collected.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Calls returns the submit/collect call log, e.g. "submit(32)".
func (d *Device) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Open lets a Device serve as an accel.Opener. Each call returns a new
// device with the same script, so instances never see each other's ops.
func (d *Device) Open(int) api.AcceleratorDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &Device{
		Kind:          d.Kind,
		Accept:        d.Accept,
		PerCollect:    d.PerCollect,
		DeferCollects: d.DeferCollects,
		Reverse:       d.Reverse,
		Status:        d.Status,
		Never:         d.Never,
	}
	d.children = append(d.children, c)
	return c
}

// Children returns the devices handed out by Open.
func (d *Device) Children() []*Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Device(nil), d.children...)
}

// Close implements accel.Opener.
func (d *Device) Close() error {
	for _, c := range d.Children() {
		_ = c.Stop()
	}
	return d.Stop()
}
