// File: stages/offload.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stages that hand their work to a shared accelerator device through an
// accel.Adapter. Completions may arrive in any order and across several
// Exec calls; Outstanding reports what is still in flight.

package stages

import (
	"github.com/momentics/hioload-nf/accel"
	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/internal/pkt"
	"github.com/momentics/hioload-nf/pool"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

// offload is the common part of accelerator-backed stages.
type offload struct {
	dev     api.AcceleratorDevice
	adapter *accel.Adapter
	parser  *pkt.Parser
	info    pkt.Info
	payload bool
}

func (o *offload) open(env *stage.Env, kind string, cfg accel.Config) error {
	depth, err := env.IntParam("queue_depth", max(env.BatchSize, 1))
	if err != nil {
		return err
	}
	if o.payload, err = env.BoolParam("payload_only", true); err != nil {
		return err
	}
	switch p := env.Param("on_error", "forward"); p {
	case "forward":
		cfg.Policy = accel.ForwardOnError
	case "drop":
		cfg.Policy = accel.DropOnError
	default:
		return api.ConfigError("%s: on_error must be forward or drop, got %q", kind, p).WithContext("stage", env.Type)
	}
	o.parser = pkt.NewParser()
	if o.dev, err = env.Shared.OpenDevice(kind, depth); err != nil {
		return err
	}
	cfg.Name = kind
	cfg.PoolSize = max(env.BatchSize, 1)
	o.adapter, err = accel.NewAdapter(o.dev, cfg, env.Stats(), env.Log())
	return err
}

// offset returns where the accelerator should start reading b.
func (o *offload) offset(b api.Buffer) int {
	if !o.payload {
		return 0
	}
	if err := o.parser.Parse(b.Bytes(), &o.info); err != nil {
		return 0
	}
	return o.info.PayloadOffset
}

func (o *offload) Exec(in []api.Buffer) []api.Buffer { return o.adapter.Exec(in) }

func (o *offload) Outstanding() int {
	if o.adapter == nil {
		return 0
	}
	return o.adapter.Outstanding()
}

func (o *offload) Free() error {
	if o.dev == nil {
		return nil
	}
	dev := o.dev
	o.dev = nil
	return dev.Stop()
}

// Regex scans packet payloads against the shared rule set of the regex
// device and counts matches.
type Regex struct {
	offload
	matches *stats.Counter
	hits    *stats.Counter
}

var (
	_ stage.Stage   = (*Regex)(nil)
	_ stage.Pending = (*Regex)(nil)
)

func (r *Regex) Init(env *stage.Env) error {
	r.matches = env.Stats().Counter("regex.matches")
	r.hits = env.Stats().Counter("regex.matched_packets")
	return r.open(env, "regex", accel.Config{
		Params: func(src api.Buffer) any { return accel.RegexParams{Offset: r.offset(src)} },
		OnComplete: func(op *api.Op) {
			if op.Matches > 0 {
				r.matches.Add(uint64(op.Matches))
				r.hits.Inc()
			}
		},
	})
}

// Compress deflates (or lz4-encodes) packet payloads on the compress
// device into pooled scratch buffers. With rewrite set, a successful
// result that is smaller than the original replaces the payload in place.
type Compress struct {
	offload
	pool    *pool.PacketPool
	rewrite bool

	bytesIn  *stats.Counter
	bytesOut *stats.Counter
	noBuf    *stats.Counter
}

var (
	_ stage.Stage   = (*Compress)(nil)
	_ stage.Pending = (*Compress)(nil)
)

func (c *Compress) Init(env *stage.Env) error {
	var err error
	if c.rewrite, err = env.BoolParam("rewrite", false); err != nil {
		return err
	}
	c.pool = env.Pool
	if c.pool == nil {
		c.pool = pool.NewPacketPool(pool.PoolConfig{
			BufferSize: pool.DefaultBufferSize,
			Capacity:   4 * max(env.BatchSize, 1),
		}, -1)
	}
	st := env.Stats()
	c.bytesIn = st.Counter("compress.bytes_in")
	c.bytesOut = st.Counter("compress.bytes_out")
	c.noBuf = st.Counter("compress.no_scratch")
	return c.open(env, "compress", accel.Config{
		Scratch: func(src api.Buffer) api.Buffer {
			dst := c.pool.Get(c.pool.BufferSize(), src.NUMANode())
			if dst == nil {
				c.noBuf.Inc()
			}
			return dst
		},
		Params:     func(src api.Buffer) any { return accel.CompressParams{Offset: c.offset(src)} },
		OnComplete: c.complete,
	})
}

func (c *Compress) complete(op *api.Op) {
	if op.Status != api.OpSuccess {
		return
	}
	off := 0
	if p, ok := op.Params.(accel.CompressParams); ok {
		off = p.Offset
	}
	in := op.Src.Len() - off
	c.bytesIn.Add(uint64(in))
	c.bytesOut.Add(uint64(op.Produced))
	if c.rewrite && op.Produced < in {
		copy(op.Src.Bytes()[off:], op.Dst.Bytes()[:op.Produced])
		op.Src.SetLen(off + op.Produced)
	}
}
