// File: input/driver_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/fake"
	"github.com/momentics/hioload-nf/input"
	"github.com/momentics/hioload-nf/pool"
	"github.com/momentics/hioload-nf/stats"
)

func tenPayloads() [][]byte {
	var p [][]byte
	for i := 0; i < 10; i++ {
		p = append(p, []byte(fmt.Sprintf("pkt-%d", i)))
	}
	return p
}

// mover copies head to tail until stopped, releasing every dropEvery-th
// buffer instead.
func mover(head, tail api.Queue, dropEvery int, dropped *atomic.Uint64) (stop func()) {
	var quit atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]api.Buffer, 8)
		seen := 0
		for !quit.Load() {
			n := head.DequeueBurst(buf)
			for _, b := range buf[:n] {
				seen++
				if dropEvery > 0 && seen%dropEvery == 0 {
					b.Release()
					dropped.Add(1)
					continue
				}
				for tail.EnqueueBurst([]api.Buffer{b}) == 0 {
					time.Sleep(time.Microsecond)
				}
			}
			if n == 0 {
				time.Sleep(10 * time.Microsecond)
			}
		}
	}()
	return func() { quit.Store(true); wg.Wait() }
}

func TestDriverPassThrough(t *testing.T) {
	src := &fake.Source{Payloads: tenPayloads()}
	require.NoError(t, src.Init())
	q := pool.NewBufferRing("head/tail", 16, api.SPSC)
	slot := stats.NewTable(1).Slot(0)

	d, err := input.NewDriver(src, q, q, nil, slot, input.DriverConfig{Batch: 4}, nil)
	require.NoError(t, err)
	res, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, input.FinishExhausted, res.Reason)
	assert.Equal(t, uint64(10), res.Injected)
	assert.Equal(t, uint64(10), res.Delivered)
	assert.Zero(t, src.Tracker.Live.Load())
	for i, b := range src.Emitted() {
		assert.Equal(t, uint64(i), b.Meta().Seq)
		assert.False(t, b.Meta().RxTime.IsZero())
		assert.False(t, b.Meta().TxTime.Before(b.Meta().RxTime))
	}
	snap := slot.Snapshot()
	assert.Equal(t, uint64(10), snap.TxBufs)
	assert.Equal(t, uint64(10), snap.RxBufs)
	assert.Equal(t, uint64(10), snap.Hists["pipeline.latency_ns"].Count())
}

func TestDriverWaitsForDroppedBuffers(t *testing.T) {
	src := &fake.Source{Payloads: tenPayloads(), Iterations: 5}
	require.NoError(t, src.Init())
	head := pool.NewBufferRing("head", 4, api.SPSC)
	tail := pool.NewBufferRing("tail", 4, api.SPSC)
	var dropped atomic.Uint64
	stopMover := mover(head, tail, 3, &dropped)
	defer stopMover()

	d, err := input.NewDriver(src, head, tail, nil, nil, input.DriverConfig{
		Batch:   8,
		Dropped: dropped.Load,
	}, nil)
	require.NoError(t, err)
	res, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, input.FinishExhausted, res.Reason)
	assert.Equal(t, uint64(50), res.Injected)
	assert.Equal(t, res.Injected, res.Delivered+dropped.Load())
	assert.Zero(t, src.Tracker.Live.Load())
	assert.Zero(t, src.Tracker.DoubleRelease.Load())
}

func TestDriverStopReleasesUnsent(t *testing.T) {
	src := &fake.Source{Payloads: tenPayloads(), Iterations: 1 << 20}
	require.NoError(t, src.Init())
	head := pool.NewBufferRing("head", 8, api.SPSC)
	tail := pool.NewBufferRing("tail", 8, api.SPSC)
	var stop atomic.Bool

	d, err := input.NewDriver(src, head, tail, &stop, nil, input.DriverConfig{Batch: 4}, nil)
	require.NoError(t, err)
	time.AfterFunc(20*time.Millisecond, func() { stop.Store(true) })
	res, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, input.FinishStopped, res.Reason)
	assert.Equal(t, uint64(8), res.Injected, "head filled and nothing moved it")
	assert.Equal(t, uint64(4), res.Unsent)
	swept := pool.Sweep(head)
	assert.Equal(t, 8, swept)
	assert.Zero(t, src.Tracker.Live.Load())
}

func TestDriverDurationAndQuiesce(t *testing.T) {
	t.Run("duration", func(t *testing.T) {
		src := &fake.Source{Payloads: tenPayloads(), Iterations: 1 << 20}
		require.NoError(t, src.Init())
		q := pool.NewBufferRing("q", 64, api.SPSC)
		d, err := input.NewDriver(src, q, q, nil, nil, input.DriverConfig{Duration: 20 * time.Millisecond}, nil)
		require.NoError(t, err)
		res, err := d.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, input.FinishDuration, res.Reason)
		assert.Positive(t, res.Delivered)
		d.DrainTail()
		assert.Zero(t, src.Tracker.Live.Load())
	})

	t.Run("quiesce timeout", func(t *testing.T) {
		src := &fake.Source{Payloads: tenPayloads()}
		require.NoError(t, src.Init())
		head := pool.NewBufferRing("head", 16, api.SPSC)
		tail := pool.NewBufferRing("tail", 16, api.SPSC)
		d, err := input.NewDriver(src, head, tail, nil, nil, input.DriverConfig{QuiesceTimeout: 20 * time.Millisecond}, nil)
		require.NoError(t, err)
		res, err := d.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, input.FinishQuiesce, res.Reason)
		assert.Equal(t, uint64(10), res.Injected)
		assert.Zero(t, res.Delivered)
		assert.Equal(t, 10, pool.Sweep(head))
	})
}

func TestDriverContextAndSourceError(t *testing.T) {
	q := pool.NewBufferRing("q", 16, api.SPSC)

	boom := errors.New("device gone")
	src := &fake.Source{NextErr: boom}
	require.NoError(t, src.Init())
	d, err := input.NewDriver(src, q, q, nil, nil, input.DriverConfig{}, nil)
	require.NoError(t, err)
	_, err = d.Run(context.Background())
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src = &fake.Source{Payloads: tenPayloads()}
	require.NoError(t, src.Init())
	d, err = input.NewDriver(src, q, q, nil, nil, input.DriverConfig{}, nil)
	require.NoError(t, err)
	res, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, input.FinishStopped, res.Reason)
	assert.Zero(t, res.Injected)

	_, err = input.NewDriver(nil, q, q, nil, nil, input.DriverConfig{}, nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}
