package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/pool"
)

func TestPacketPoolReuse(t *testing.T) {
	mgr := pool.NewBufferPoolManager(pool.PoolConfig{BufferSize: 256, Capacity: 4})
	bp := mgr.GetPool(-1)
	require.Same(t, bp, mgr.GetPool(-1))

	b1 := bp.Get(128, -1)
	require.NotNil(t, b1)
	b1.Release()
	b2 := bp.Get(64, -1)
	require.NotNil(t, b2)
	assert.Equal(t, 64, b2.Len())
	assert.Equal(t, 256, b2.Cap())
	assert.Equal(t, int64(1), bp.Stats().Allocated, "second Get should reuse the released packet")
	b2.Release()
	assert.Zero(t, mgr.InUse())
}

func TestPacketPoolOversizeAndLimit(t *testing.T) {
	p := pool.NewPacketPool(pool.PoolConfig{BufferSize: 64, Limit: 2}, 0)
	assert.Nil(t, p.Get(65, 0))

	a := p.Get(10, 0)
	b := p.Get(10, 0)
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Nil(t, p.Get(10, 0), "limit reached")
	a.Release()
	assert.NotNil(t, p.Get(10, 0))
}

func TestPacketRefCountAndDoubleRelease(t *testing.T) {
	p := pool.NewPacketPool(pool.PoolConfig{BufferSize: 64}, 0)
	b := p.GetPacket(32)
	require.NotNil(t, b)
	b.Meta().Seq = 7

	b.Retain()
	assert.Equal(t, int32(2), b.RefCount())
	b.Release()
	assert.Equal(t, int64(1), p.InUse())
	b.Release()
	assert.Equal(t, int64(0), p.InUse())

	b.Release()
	st := p.Stats()
	assert.Equal(t, int64(1), st.DoubleRelease)
	assert.Equal(t, int64(1), st.Released, "double release must not free twice")

	again := p.GetPacket(8)
	assert.Zero(t, again.Meta().Seq, "metadata is reset on reuse")
}

func TestPacketSetLenClamps(t *testing.T) {
	p := pool.NewPacketPool(pool.PoolConfig{BufferSize: 16}, 0)
	b := p.Get(4, 0)
	b.SetLen(100)
	assert.Equal(t, 16, b.Len())
	b.SetLen(-1)
	assert.Equal(t, 0, b.Len())
}

func TestBufferBatch(t *testing.T) {
	p := pool.NewPacketPool(pool.PoolConfig{BufferSize: 16}, 0)
	batch := pool.NewBufferBatch(2)
	assert.True(t, batch.Append(p.Get(1, 0)))
	assert.True(t, batch.Append(p.Get(1, 0)))
	assert.True(t, batch.Full())
	extra := p.Get(1, 0)
	assert.False(t, batch.Append(extra))
	assert.Len(t, batch.Slice(), 2)

	batch.Release()
	assert.Zero(t, batch.Len())
	assert.Equal(t, int64(1), p.InUse(), "only the rejected buffer is live")
	extra.Release()
}

func TestBufferBatchFill(t *testing.T) {
	p := pool.NewPacketPool(pool.PoolConfig{BufferSize: 16}, 0)
	q := pool.NewBufferRing("q", 8, api.SPSC)
	for i := 0; i < 5; i++ {
		require.Equal(t, 1, q.EnqueueBurst([]api.Buffer{p.Get(1, 0)}))
	}
	batch := pool.NewBufferBatch(3)
	assert.Equal(t, 3, batch.Fill(q))
	assert.Zero(t, batch.Fill(q), "full batch takes nothing")
	batch.Release()
	assert.Equal(t, 2, pool.Sweep(q))
	assert.Zero(t, p.InUse())
}

func TestBufferRingFIFO(t *testing.T) {
	for _, disc := range []api.Discipline{api.SPSC, api.MPMC} {
		t.Run(disc.String(), func(t *testing.T) {
			p := pool.NewPacketPool(pool.PoolConfig{BufferSize: 16}, 0)
			q := pool.NewBufferRing("q", 6, disc)
			assert.Equal(t, 8, q.Cap())
			assert.Equal(t, disc, q.Discipline())

			in := make([]api.Buffer, 10)
			for i := range in {
				in[i] = p.Get(1, 0)
				in[i].Meta().Seq = uint64(i)
			}
			n := q.EnqueueBurst(in)
			require.Equal(t, 8, n, "full enqueue returns a partial count")

			out := make([]api.Buffer, 3)
			require.Equal(t, 3, q.DequeueBurst(out))
			for i, b := range out {
				assert.Equal(t, uint64(i), b.Meta().Seq)
				b.Release()
			}
			require.Equal(t, 2, q.EnqueueBurst(in[8:]))

			rest := make([]api.Buffer, 16)
			got := q.DequeueBurst(rest)
			require.Equal(t, 7, got)
			for i := 0; i < got; i++ {
				assert.Equal(t, uint64(i+3), rest[i].Meta().Seq)
			}
			assert.Zero(t, q.DequeueBurst(rest), "empty dequeue returns zero")

			q.EnqueueBurst(rest[:got])
			assert.Equal(t, got, pool.Sweep(q))
			assert.Zero(t, p.InUse())
		})
	}
}
