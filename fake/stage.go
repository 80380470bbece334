// Package fake
// Author: momentics <momentics@gmail.com>
//
// Instrumented stages for topology, scheduler and controller tests.

package fake

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-nf/accel"
	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/stage"
)

// CountingOptions scripts a Counting stage.
type CountingOptions struct {
	InitErr   error // returned by Init
	DropEvery int   // release every Nth buffer instead of forwarding
}

// Counting forwards its input and counts lifecycle calls.
type Counting struct {
	opts CountingOptions
	Env  *stage.Env

	Inits atomic.Int64
	Execs atomic.Int64
	Frees atomic.Int64
	Seen  atomic.Int64

	out []api.Buffer
	n   int
}

func (c *Counting) Init(env *stage.Env) error {
	c.Inits.Add(1)
	c.Env = env
	if c.opts.InitErr != nil {
		return c.opts.InitErr
	}
	c.out = make([]api.Buffer, 0, max(env.BatchSize, 1))
	return nil
}

func (c *Counting) Exec(in []api.Buffer) []api.Buffer {
	c.Execs.Add(1)
	c.out = c.out[:0]
	for _, b := range in {
		c.Seen.Add(1)
		c.n++
		if c.opts.DropEvery > 0 && c.n%c.opts.DropEvery == 0 {
			b.Release()
			if c.Env != nil {
				c.Env.Stats().AddDrop(1)
			}
			continue
		}
		c.out = append(c.out, b)
	}
	return c.out
}

func (c *Counting) Free() error {
	c.Frees.Add(1)
	c.out = nil
	return nil
}

// CountingSet records every Counting instance it constructs.
type CountingSet struct {
	mu        sync.Mutex
	instances []*Counting
}

// Constructor returns a stage constructor producing recorded instances.
func (s *CountingSet) Constructor(opts CountingOptions) stage.Constructor {
	return func() stage.Stage {
		c := &Counting{opts: opts}
		s.mu.Lock()
		s.instances = append(s.instances, c)
		s.mu.Unlock()
		return c
	}
}

// Instances returns the stages constructed so far.
func (s *CountingSet) Instances() []*Counting {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Counting(nil), s.instances...)
}

// Accel is a stage driving the named shared accelerator through an
// accel.Adapter; it forwards every completed buffer.
type Accel struct {
	Kind    string
	dev     api.AcceleratorDevice
	adapter *accel.Adapter
}

// AccelConstructor returns a constructor for Accel stages on kind.
func AccelConstructor(kind string) stage.Constructor {
	return func() stage.Stage { return &Accel{Kind: kind} }
}

func (a *Accel) Init(env *stage.Env) error {
	dev, err := env.Shared.OpenDevice(a.Kind, env.BatchSize)
	if err != nil {
		return err
	}
	a.dev = dev
	a.adapter, err = accel.NewAdapter(dev, accel.Config{Name: a.Kind, PoolSize: env.BatchSize}, env.Stats(), env.Log())
	return err
}

func (a *Accel) Exec(in []api.Buffer) []api.Buffer { return a.adapter.Exec(in) }

func (a *Accel) Outstanding() int {
	if a.adapter == nil {
		return 0
	}
	return a.adapter.Outstanding()
}

func (a *Accel) Free() error {
	if a.dev != nil {
		return a.dev.Stop()
	}
	return nil
}
