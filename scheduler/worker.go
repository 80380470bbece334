// File: scheduler/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package scheduler

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/internal/concurrency"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

// IdlePolicy selects what a worker does after an iteration that moved
// nothing.
type IdlePolicy int

const (
	// IdlePoll keeps polling at full speed.
	IdlePoll IdlePolicy = iota
	// IdleBackoff spins, yields, then sleeps up to MaxSleep.
	IdleBackoff
)

// Options tunes a Worker.
type Options struct {
	Idle     IdlePolicy
	MaxSleep time.Duration

	// Affinity pins the worker thread to the descriptor's core when set
	// and the core is non-negative. A failed pin is logged and the worker
	// runs unpinned.
	Affinity api.Affinity

	Logger *zap.Logger
}

// Worker drives a single stage descriptor.
type Worker struct {
	desc *stage.Descriptor
	slot *stats.Slot
	stop *atomic.Bool
	opts Options
	log  *zap.Logger

	batch    []api.Buffer
	lens     []int
	inIdx    int
	outIdx   int
	residual []api.Buffer
	backoff  *concurrency.Backoff

	state      atomic.Int32
	iterations atomic.Uint64
}

// New validates desc and prepares a worker. stop is the shared stop flag
// raised by the controller.
func New(desc *stage.Descriptor, slot *stats.Slot, stop *atomic.Bool, opts Options) (*Worker, error) {
	if desc == nil || stop == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "scheduler: nil descriptor or stop flag")
	}
	if len(desc.In) == 0 || len(desc.Out) == 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "stage has no input or output queue").
			WithContext("stage", desc.Name()).Wrap(api.ErrNoQueues)
	}
	if slot == nil {
		slot = stats.NewTable(1).Slot(0)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	bs := max(desc.BatchSize, 1)
	w := &Worker{
		desc:  desc,
		slot:  slot,
		stop:  stop,
		opts:  opts,
		log:   log.With(zap.String("stage", desc.Name()), zap.Int("core", desc.CoreID)),
		batch: make([]api.Buffer, bs),
		lens:  make([]int, 0, bs),
	}
	if opts.Idle == IdleBackoff {
		w.backoff = concurrency.NewBackoff(opts.MaxSleep)
	}
	w.state.Store(int32(api.StateInitialized))
	return w, nil
}

// Run loops until the stop flag is observed. It returns nil on a normal
// stop; pinning problems are logged, not returned.
func (w *Worker) Run() error {
	if a := w.opts.Affinity; a != nil && w.desc.CoreID >= 0 {
		if err := a.Pin(w.desc.CoreID, -1); err != nil {
			w.log.Warn("worker runs unpinned", zap.Error(err))
		}
		defer a.Unpin()
	}
	w.state.Store(int32(api.StateRunning))
	w.log.Debug("worker started")
	for !w.stop.Load() {
		moved := w.Step()
		if w.backoff == nil {
			continue
		}
		if moved == 0 {
			w.backoff.Idle()
		} else {
			w.backoff.Reset()
		}
	}
	w.state.Store(int32(api.StateStopped))
	w.log.Debug("worker stopped", zap.Uint64("iterations", w.iterations.Load()))
	return nil
}

// Step runs one iteration and returns the number of buffers dequeued
// plus enqueued.
func (w *Worker) Step() int {
	w.iterations.Add(1)
	in := w.desc.In[w.inIdx]
	n := in.DequeueBurst(w.batch)
	if n > 0 {
		bytes := 0
		for _, b := range w.batch[:n] {
			bytes += b.Len()
		}
		w.slot.AddRx(n, bytes)
	}

	out := w.desc.Exec(w.batch[:n])
	w.slot.AddExec()
	sent := w.send(out)
	clear(w.batch[:n])

	w.inIdx = (w.inIdx + 1) % len(w.desc.In)
	w.outIdx = (w.outIdx + 1) % len(w.desc.Out)
	return n + sent
}

// send pushes out to the current output queue, retrying the remainder on
// the same queue. When the stop flag rises during a retry the remainder is
// parked in the residual list.
func (w *Worker) send(out []api.Buffer) int {
	if len(out) == 0 {
		return 0
	}
	w.lens = w.lens[:0]
	for _, b := range out {
		w.lens = append(w.lens, b.Len())
	}
	q := w.desc.Out[w.outIdx]
	sent := 0
	for sent < len(out) {
		k := q.EnqueueBurst(out[sent:])
		if k > 0 {
			bytes := 0
			for _, l := range w.lens[sent : sent+k] {
				bytes += l
			}
			w.slot.AddTx(k, bytes)
			sent += k
			continue
		}
		if w.stop.Load() {
			w.residual = append(w.residual, out[sent:]...)
			w.log.Debug("output blocked at stop, parking remainder",
				zap.String("queue", q.Name()), zap.Int("parked", len(out)-sent))
			break
		}
		runtime.Gosched()
	}
	if sent == len(out) {
		w.slot.AddBatch()
	}
	return sent
}

// Residual returns buffers a stopped worker could not enqueue. The caller
// takes ownership; the list is cleared.
func (w *Worker) Residual() []api.Buffer {
	r := w.residual
	w.residual = nil
	return r
}

// State reports the worker lifecycle state.
func (w *Worker) State() api.RunState { return api.RunState(w.state.Load()) }

// Iterations returns the number of completed steps.
func (w *Worker) Iterations() uint64 { return w.iterations.Load() }

// Descriptor returns the stage instance this worker drives.
func (w *Worker) Descriptor() *stage.Descriptor { return w.desc }
