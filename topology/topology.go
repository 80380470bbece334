// File: topology/topology.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package topology

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/pool"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

// DefaultQueueSize is the capacity of every queue when Options leaves it unset.
const DefaultQueueSize = 1024

// Options controls Build.
type Options struct {
	Registry   *stage.Registry
	BatchSize  int
	QueueSize  int
	Discipline api.Discipline // inter-layer queues; SPSC unless set

	// Cores assigns worker cores in instance order (layer 0 first). When
	// shorter than the instance count, the remaining instances get core -1
	// (unpinned).
	Cores []int

	// Limits bounds the spec; the zero value means DefaultLimits.
	Limits Limits

	// Stats provides one slot per instance at index 1+k; slot 0 is the
	// primary core. A private table is created when nil.
	Stats *stats.Table

	Pool   *pool.PacketPool
	Shared *stage.Shared
	Params map[string]string
	Logger *zap.Logger
}

func (o *Options) applyDefaults(instances int) {
	if o.Limits == (Limits{}) {
		o.Limits = DefaultLimits
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Stats == nil {
		o.Stats = stats.NewTable(instances + 1)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Topology is a built pipeline. It is immutable after Build and torn down
// once with Free.
type Topology struct {
	Spec   Spec
	Layers [][]*stage.Descriptor
	Head   api.Queue
	Tail   api.Queue
	Links  []api.Queue

	log   *zap.Logger
	mu    sync.Mutex
	freed bool
}

// Build instantiates, initialises and wires every stage in spec. On error
// everything already built is freed and the error names the stage type.
func Build(spec Spec, opts Options) (*Topology, error) {
	if opts.Registry == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "topology: nil stage registry")
	}
	if err := spec.CheckTypes(opts.Registry); err != nil {
		return nil, err
	}
	opts.applyDefaults(spec.Instances())
	if err := spec.Validate(opts.Limits); err != nil {
		return nil, err
	}
	log := opts.Logger.Named("topology")

	t := &Topology{Spec: spec, Layers: make([][]*stage.Descriptor, len(spec)), log: log}

	k := 0
	for li, ls := range spec {
		for inst := 0; inst < ls.Instances; inst++ {
			s, err := opts.Registry.New(ls.Type)
			if err != nil {
				t.teardown()
				return nil, err
			}
			core := -1
			if k < len(opts.Cores) {
				core = opts.Cores[k]
			}
			d := &stage.Descriptor{
				Type:      ls.Type,
				Stage:     s,
				BatchSize: opts.BatchSize,
				CoreID:    core,
				StatsSlot: k + 1,
				Layer:     li,
				Instance:  inst,
			}
			t.Layers[li] = append(t.Layers[li], d)
			env := &stage.Env{
				Type:      ls.Type,
				Layer:     li,
				Instance:  inst,
				CoreID:    core,
				StatsSlot: d.StatsSlot,
				BatchSize: opts.BatchSize,
				Logger:    log.Named(ls.Type).With(zap.Int("layer", li), zap.Int("instance", inst)),
				Pool:      opts.Pool,
				Slot:      opts.Stats.Slot(d.StatsSlot),
				Shared:    opts.Shared,
				Params:    opts.Params,
				Registry:  opts.Registry,
			}
			if err := d.Init(env); err != nil {
				log.Error("stage init failed", zap.String("stage", ls.Type),
					zap.Int("layer", li), zap.Int("instance", inst), zap.Error(err))
				t.teardown()
				return nil, err
			}
			k++
		}
	}

	t.wire(opts)
	log.Info("topology built",
		zap.Int("layers", len(spec)),
		zap.Int("instances", k),
		zap.Int("links", len(t.Links)))
	return t, nil
}

func (t *Topology) wire(opts Options) {
	for i := 0; i+1 < len(t.Layers); i++ {
		for _, p := range t.Layers[i] {
			for _, c := range t.Layers[i+1] {
				q := pool.NewBufferRing(fmt.Sprintf("L%d.%d->L%d.%d", i, p.Instance, i+1, c.Instance), opts.QueueSize, opts.Discipline)
				p.Out = append(p.Out, q)
				c.In = append(c.In, q)
				t.Links = append(t.Links, q)
			}
		}
	}

	if len(t.Layers) == 0 {
		q := pool.NewBufferRing("head/tail", opts.QueueSize, api.SPSC)
		t.Head, t.Tail = q, q
		return
	}

	first, last := t.Layers[0], t.Layers[len(t.Layers)-1]
	t.Head = pool.NewBufferRing("head", opts.QueueSize, sharedDiscipline(len(first)))
	for _, d := range first {
		d.In = append(d.In, t.Head)
	}
	t.Tail = pool.NewBufferRing("tail", opts.QueueSize, sharedDiscipline(len(last)))
	for _, d := range last {
		d.Out = append(d.Out, t.Tail)
	}
}

func sharedDiscipline(n int) api.Discipline {
	if n > 1 {
		return api.MPMC
	}
	return api.SPSC
}

// Descriptors returns every top-level descriptor, layer 0 first.
func (t *Topology) Descriptors() []*stage.Descriptor {
	var out []*stage.Descriptor
	for _, l := range t.Layers {
		out = append(out, l...)
	}
	return out
}

// Queues returns every queue once: head, inter-layer links, tail.
func (t *Topology) Queues() []api.Queue {
	qs := make([]api.Queue, 0, len(t.Links)+2)
	if t.Head != nil {
		qs = append(qs, t.Head)
	}
	qs = append(qs, t.Links...)
	if t.Tail != nil && t.Tail != t.Head {
		qs = append(qs, t.Tail)
	}
	return qs
}

// Outstanding sums in-flight accelerator work across all instances.
func (t *Topology) Outstanding() int {
	n := 0
	for _, d := range t.Descriptors() {
		n += d.Outstanding()
	}
	return n
}

// Free releases every stage, last layer first. Calling it again is a no-op.
func (t *Topology) Free() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.freed {
		return nil
	}
	t.freed = true
	return t.teardown()
}

func (t *Topology) teardown() error {
	var errs []error
	for li := len(t.Layers) - 1; li >= 0; li-- {
		layer := t.Layers[li]
		for i := len(layer) - 1; i >= 0; i-- {
			if err := layer[i].Free(); err != nil {
				t.log.Warn("stage free failed", zap.String("stage", layer[i].Name()), zap.Error(err))
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Describe renders the stage table for logs.
func (t *Topology) Describe() string {
	var b strings.Builder
	t.WriteTable(&b)
	return b.String()
}

// WriteTable writes one row per instance.
func (t *Topology) WriteTable(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tSTAGE\tINSTANCE\tCORE\tSLOT\tIN\tOUT")
	if len(t.Layers) == 0 {
		fmt.Fprintf(tw, "-\t(pass-through)\t-\t-\t-\t%s\t%s\n", t.Head.Name(), t.Tail.Name())
	}
	for _, d := range t.Descriptors() {
		typ := d.Type
		if len(d.Sub) > 0 {
			subs := make([]string, len(d.Sub))
			for i, s := range d.Sub {
				subs[i] = s.Type
			}
			typ = fmt.Sprintf("%s(%s)", d.Type, strings.Join(subs, "+"))
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\n", d.Layer, typ, d.Instance, d.CoreID, d.StatsSlot, len(d.In), len(d.Out))
	}
	tw.Flush()
}
