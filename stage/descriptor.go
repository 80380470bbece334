// File: stage/descriptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stage

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-nf/api"
)

// Descriptor is one stage instance placed in the topology.
type Descriptor struct {
	Type      string
	Stage     Stage
	BatchSize int
	In        []api.Queue
	Out       []api.Queue
	CoreID    int
	StatsSlot int
	Layer     int
	Instance  int

	// Sub describes the sub-stages of a composite. Sub-stages have no
	// queues of their own.
	Sub []*Descriptor

	inited bool
	freed  bool
}

// Name identifies the instance in logs, e.g. "acl[1/0]".
func (d *Descriptor) Name() string {
	return fmt.Sprintf("%s[%d/%d]", d.Type, d.Layer, d.Instance)
}

// Init initialises the stage and, for composites, records sub-descriptors.
func (d *Descriptor) Init(env *Env) error {
	if d.Stage == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "descriptor has no stage").WithContext("stage", d.Type)
	}
	d.inited = true
	err := d.Stage.Init(env)
	if c, ok := d.Stage.(*Composite); ok {
		types := c.Types()
		d.Sub = d.Sub[:0]
		for i, s := range c.Subs() {
			d.Sub = append(d.Sub, &Descriptor{
				Type:      types[i],
				Stage:     s,
				BatchSize: d.BatchSize,
				CoreID:    d.CoreID,
				StatsSlot: d.StatsSlot,
				Layer:     d.Layer,
				Instance:  d.Instance,
				inited:    true,
				freed:     true, // owned and freed by the composite
			})
		}
	}
	if err != nil {
		code := api.ErrCodeResourceExhausted
		var ae *api.Error
		if errors.As(err, &ae) {
			code = ae.Code
		}
		return api.NewError(code, "stage init failed").
			WithContext("stage", d.Type).
			WithContext("layer", d.Layer).
			WithContext("instance", d.Instance).
			Wrap(err)
	}
	return nil
}

// Exec forwards to the stage.
func (d *Descriptor) Exec(in []api.Buffer) []api.Buffer { return d.Stage.Exec(in) }

// Outstanding reports in-flight accelerator work.
func (d *Descriptor) Outstanding() int {
	if d.Stage == nil || d.freed {
		return 0
	}
	return Outstanding(d.Stage)
}

// Free releases the stage once, even when Init failed part-way.
func (d *Descriptor) Free() error {
	if d.freed || d.Stage == nil {
		d.freed = true
		return nil
	}
	d.freed = true
	if !d.inited {
		return nil
	}
	if err := d.Stage.Free(); err != nil {
		return fmt.Errorf("free %s: %w", d.Name(), err)
	}
	return nil
}

// Freed reports whether Free has run.
func (d *Descriptor) Freed() bool { return d.freed }
