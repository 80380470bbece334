// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake buffer implementation for testing. Tracks releases so tests can
// assert conservation and catch double frees without a real pool.

package fake

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-nf/api"
)

var _ api.Buffer = (*Buffer)(nil)

// Buffer is a fake implementation of api.Buffer.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	n        int
	meta     api.PacketMeta
	refs     int32
	freed    bool
	doubles  int
	numaNode int
	tracker  *Tracker
}

// Tracker counts live and freed fake buffers.
type Tracker struct {
	Live          atomic.Int64
	Freed         atomic.Int64
	DoubleRelease atomic.Int64
}

// NewBuffer creates a new fake buffer holding a copy of data.
func NewBuffer(data []byte, numaNode int) *Buffer {
	return newBuffer(data, numaNode, nil)
}

// NewBuffer creates a tracked fake buffer.
func (t *Tracker) NewBuffer(data []byte) *Buffer {
	return newBuffer(data, -1, t)
}

func newBuffer(data []byte, numaNode int, t *Tracker) *Buffer {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	if t != nil {
		t.Live.Add(1)
	}
	return &Buffer{
		data:     dataCopy,
		n:        len(dataCopy),
		refs:     1,
		numaNode: numaNode,
		tracker:  t,
	}
}

// Bytes returns the buffer data, or nil after release.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return nil
	}
	return b.data[:b.n]
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

func (b *Buffer) SetLen(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n = max(0, min(n, len(b.data)))
}

func (b *Buffer) Cap() int { return len(b.data) }

func (b *Buffer) Meta() *api.PacketMeta { return &b.meta }

func (b *Buffer) NUMANode() int { return b.numaNode }

func (b *Buffer) Retain() {
	b.mu.Lock()
	b.refs++
	b.mu.Unlock()
}

// Release drops a reference; a release after the buffer was freed is
// recorded as a double release.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		b.doubles++
		if b.tracker != nil {
			b.tracker.DoubleRelease.Add(1)
		}
		return
	}
	b.refs--
	if b.refs == 0 {
		b.freed = true
		if b.tracker != nil {
			b.tracker.Live.Add(-1)
			b.tracker.Freed.Add(1)
		}
	}
}

func (b *Buffer) RefCount() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs
}

// Released reports whether the buffer was freed.
func (b *Buffer) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freed
}

// DoubleReleases returns the number of releases after free.
func (b *Buffer) DoubleReleases() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doubles
}
