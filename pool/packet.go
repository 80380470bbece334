// File: pool/packet.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Packet is the pooled, reference-counted implementation of api.Buffer.

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-nf/api"
)

var _ api.Buffer = (*Packet)(nil)

// Packet owns a fixed-capacity byte region taken from a PacketPool.
type Packet struct {
	data []byte
	n    int
	meta api.PacketMeta
	refs atomic.Int32
	pool *PacketPool
	numa int
}

func (p *Packet) Bytes() []byte         { return p.data[:p.n] }
func (p *Packet) Len() int              { return p.n }
func (p *Packet) Cap() int              { return len(p.data) }
func (p *Packet) Meta() *api.PacketMeta { return &p.meta }
func (p *Packet) RefCount() int32       { return p.refs.Load() }
func (p *Packet) NUMANode() int         { return p.numa }

// SetLen resizes the packet, clamped to [0, Cap()].
func (p *Packet) SetLen(n int) {
	switch {
	case n < 0:
		n = 0
	case n > len(p.data):
		n = len(p.data)
	}
	p.n = n
}

// Retain adds a reference for an operation that outlives the current owner.
func (p *Packet) Retain() { p.refs.Add(1) }

// Release drops one reference. The packet returns to its pool at zero.
// Releasing a packet that is already free is counted and otherwise ignored.
func (p *Packet) Release() {
	for {
		r := p.refs.Load()
		if r <= 0 {
			if p.pool != nil {
				p.pool.doubleRelease.Add(1)
			}
			return
		}
		if p.refs.CompareAndSwap(r, r-1) {
			if r == 1 && p.pool != nil {
				p.pool.put(p)
			}
			return
		}
	}
}

func (p *Packet) reset(size int) {
	p.n = size
	p.meta = api.PacketMeta{}
	p.refs.Store(1)
}
