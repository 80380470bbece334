// File: input/driver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/internal/concurrency"
	"github.com/momentics/hioload-nf/stats"
)

// Reasons a driver run ends.
const (
	FinishExhausted = "exhausted" // source drained and pipeline empty
	FinishDuration  = "duration"  // run duration elapsed
	FinishStopped   = "stopped"   // stop flag or context
	FinishQuiesce   = "quiesce_timeout"
)

// DriverConfig tunes the run-mode driver.
type DriverConfig struct {
	Batch          int
	Duration       time.Duration // zero runs until the source is exhausted
	QuiesceTimeout time.Duration // wait for in-flight packets once exhausted
	MaxSleep       time.Duration // idle backoff ceiling
	// Dropped reports buffers consumed inside the pipeline. Together with
	// the delivered count it tells when every injected buffer has left.
	Dropped func() uint64
}

// DefaultDriverConfig returns the driver defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{Batch: 32, QuiesceTimeout: 5 * time.Second, MaxSleep: time.Millisecond}
}

// Result summarises a driver run.
type Result struct {
	Reason    string
	Injected  uint64
	Delivered uint64
	Unsent    uint64 // pulled from the source but never injected
	Elapsed   time.Duration
}

// Driver runs on the primary core. It feeds the head queue from the
// source, stamping sequence numbers and receive times, and drains the tail
// queue, recording latency and releasing what comes out.
type Driver struct {
	src  Source
	head api.Queue
	tail api.Queue
	stop *atomic.Bool
	slot *stats.Slot
	cfg  DriverConfig
	log  *zap.Logger

	in      []api.Buffer
	pending []api.Buffer
	out     []api.Buffer
	seq     uint64

	exhausted   bool
	exhaustedAt time.Time

	injected  atomic.Uint64
	delivered atomic.Uint64
	unsent    atomic.Uint64

	latency  *stats.Histogram
	headFull *stats.Counter
}

// NewDriver wires a driver between src and the pipeline ends.
func NewDriver(src Source, head, tail api.Queue, stop *atomic.Bool, slot *stats.Slot, cfg DriverConfig, log *zap.Logger) (*Driver, error) {
	if src == nil || head == nil || tail == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "driver: source, head and tail are required")
	}
	def := DefaultDriverConfig()
	if cfg.Batch <= 0 {
		cfg.Batch = def.Batch
	}
	if cfg.QuiesceTimeout <= 0 {
		cfg.QuiesceTimeout = def.QuiesceTimeout
	}
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = def.MaxSleep
	}
	if cfg.Dropped == nil {
		cfg.Dropped = func() uint64 { return 0 }
	}
	if stop == nil {
		stop = new(atomic.Bool)
	}
	if slot == nil {
		slot = stats.NewTable(1).Slot(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		src:      src,
		head:     head,
		tail:     tail,
		stop:     stop,
		slot:     slot,
		cfg:      cfg,
		log:      log,
		in:       make([]api.Buffer, cfg.Batch),
		out:      make([]api.Buffer, cfg.Batch),
		latency:  slot.Histogram("pipeline.latency_ns"),
		headFull: slot.Counter("driver.head_full"),
	}, nil
}

// Run drives the pipeline until the source is exhausted and every injected
// buffer has left, the duration elapses, ctx is done, or the stop flag is
// raised. A source error ends the run and is returned.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var deadline time.Time
	if d.cfg.Duration > 0 {
		deadline = start.Add(d.cfg.Duration)
	}
	backoff := concurrency.NewBackoff(d.cfg.MaxSleep)
	reason := FinishStopped
	var runErr error

	for {
		if d.stop.Load() || ctx.Err() != nil {
			break
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			reason = FinishDuration
			break
		}
		fed, err := d.feed()
		if err != nil {
			runErr = err
			break
		}
		drained := d.drain()
		if d.exhausted && len(d.pending) == 0 {
			if d.quiescent() {
				reason = FinishExhausted
				break
			}
			if time.Since(d.exhaustedAt) >= d.cfg.QuiesceTimeout {
				reason = FinishQuiesce
				d.log.Warn("pipeline did not quiesce",
					zap.Uint64("injected", d.injected.Load()),
					zap.Uint64("delivered", d.delivered.Load()),
					zap.Uint64("dropped", d.cfg.Dropped()))
				break
			}
		}
		if fed+drained == 0 {
			backoff.Idle()
		} else {
			backoff.Reset()
		}
	}

	d.releasePending()
	res := d.Result()
	res.Reason = reason
	res.Elapsed = time.Since(start)
	d.log.Info("driver finished",
		zap.String("reason", reason),
		zap.Uint64("injected", res.Injected),
		zap.Uint64("delivered", res.Delivered),
		zap.Duration("elapsed", res.Elapsed))
	return res, runErr
}

// feed pulls a batch when none is pending and pushes the pending buffers
// into the head queue. Buffers the queue cannot take stay pending.
func (d *Driver) feed() (int, error) {
	if len(d.pending) == 0 && !d.exhausted {
		n, err := d.src.Next(d.in)
		if n > 0 {
			now := time.Now()
			for _, b := range d.in[:n] {
				m := b.Meta()
				m.Seq = d.seq
				m.RxTime = now
				d.seq++
			}
			d.pending = d.in[:n]
		}
		if errors.Is(err, io.EOF) {
			d.exhausted = true
			d.exhaustedAt = time.Now()
			d.log.Debug("source exhausted", zap.Uint64("pulled", d.seq))
		} else if err != nil {
			return 0, err
		}
	}
	if len(d.pending) == 0 {
		return 0, nil
	}
	k := d.head.EnqueueBurst(d.pending)
	if k < len(d.pending) {
		d.headFull.Inc()
	}
	if k > 0 {
		bytes := 0
		for _, b := range d.pending[:k] {
			bytes += b.Len()
		}
		d.slot.AddTx(k, bytes)
		d.injected.Add(uint64(k))
		clear(d.pending[:k])
		d.pending = d.pending[k:]
	}
	return k, nil
}

// drain takes one burst off the tail queue.
func (d *Driver) drain() int {
	n := d.tail.DequeueBurst(d.out)
	if n == 0 {
		return 0
	}
	now := time.Now()
	bytes := 0
	for i, b := range d.out[:n] {
		m := b.Meta()
		m.TxTime = now
		if !m.RxTime.IsZero() {
			d.latency.ObserveDuration(now.Sub(m.RxTime))
		}
		bytes += b.Len()
		b.Release()
		d.out[i] = nil
	}
	d.slot.AddRx(n, bytes)
	d.delivered.Add(uint64(n))
	return n
}

// DrainTail empties the tail queue, returning how many buffers it released.
// The controller calls it during shutdown after Run returns.
func (d *Driver) DrainTail() int {
	total := 0
	for {
		n := d.drain()
		if n == 0 {
			return total
		}
		total += n
	}
}

func (d *Driver) quiescent() bool {
	return d.delivered.Load()+d.cfg.Dropped() >= d.injected.Load()
}

func (d *Driver) releasePending() {
	for i, b := range d.pending {
		b.Release()
		d.pending[i] = nil
	}
	d.unsent.Add(uint64(len(d.pending)))
	d.pending = nil
}

// Result returns the counters so far.
func (d *Driver) Result() Result {
	return Result{
		Injected:  d.injected.Load(),
		Delivered: d.delivered.Load(),
		Unsent:    d.unsent.Load(),
	}
}

// Injected returns buffers accepted by the head queue.
func (d *Driver) Injected() uint64 { return d.injected.Load() }

// Delivered returns buffers taken off the tail queue.
func (d *Driver) Delivered() uint64 { return d.delivered.Load() }
