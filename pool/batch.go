// File: pool/batch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BufferBatch is a bounded scratch batch of api.Buffer owned by one
// goroutine. It is not safe for concurrent use.

package pool

import "github.com/momentics/hioload-nf/api"

var _ api.Batch[api.Buffer] = (*BufferBatch)(nil)

type BufferBatch struct {
	buffers []api.Buffer
}

// NewBufferBatch creates an empty batch holding at most capacity buffers.
func NewBufferBatch(capacity int) *BufferBatch {
	return &BufferBatch{buffers: make([]api.Buffer, 0, max(capacity, 1))}
}

// Append adds a buffer; returns false when the batch is full.
func (b *BufferBatch) Append(buf api.Buffer) bool {
	if b.Full() {
		return false
	}
	b.buffers = append(b.buffers, buf)
	return true
}

// Fill dequeues one burst from q into the free tail of the batch and
// returns how many buffers it took.
func (b *BufferBatch) Fill(q api.Queue) int {
	n := len(b.buffers)
	k := q.DequeueBurst(b.buffers[n:cap(b.buffers)])
	b.buffers = b.buffers[:n+k]
	return k
}

func (b *BufferBatch) Len() int               { return len(b.buffers) }
func (b *BufferBatch) Cap() int               { return cap(b.buffers) }
func (b *BufferBatch) Full() bool             { return len(b.buffers) == cap(b.buffers) }
func (b *BufferBatch) Get(idx int) api.Buffer { return b.buffers[idx] }
func (b *BufferBatch) Slice() []api.Buffer    { return b.buffers }

// Reset empties the batch, zeroing entries so nothing stays reachable.
func (b *BufferBatch) Reset() {
	clear(b.buffers)
	b.buffers = b.buffers[:0]
}

// Release drops one reference on every buffer, then resets.
func (b *BufferBatch) Release() {
	for _, buf := range b.buffers {
		if buf != nil {
			buf.Release()
		}
	}
	b.Reset()
}
