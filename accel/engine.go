// File: accel/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Software accelerator: goroutine workers behind per-instance queue pairs.

package accel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
)

// Processor performs one operation synchronously, setting Status and the
// result fields. It is called concurrently from several workers.
type Processor func(op *api.Op)

// Opener hands out per-instance device handles.
type Opener interface {
	Open(depth int) api.AcceleratorDevice
	Close() error
}

// Engine is a shared software device. Work submitted through any queue pair
// is processed by whichever worker is free, so completions are out of order.
type Engine struct {
	name string
	proc Processor
	log  *zap.Logger

	mu      sync.RWMutex
	work    chan job
	closed  bool
	stopped atomic.Bool
	wg      sync.WaitGroup
}

type job struct {
	op *api.Op
	qp *QueuePair
}

// NewEngine starts workers goroutines sharing a work queue of the given depth.
func NewEngine(name string, workers, depth int, proc Processor, log *zap.Logger) *Engine {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		name: name,
		proc: proc,
		log:  log,
		work: make(chan job, depth),
	}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	log.Debug("engine started", zap.String("engine", name), zap.Int("workers", workers), zap.Int("depth", depth))
	return e
}

// Name returns the device kind.
func (e *Engine) Name() string { return e.name }

func (e *Engine) worker() {
	defer e.wg.Done()
	for j := range e.work {
		if e.stopped.Load() {
			j.op.Status = api.OpFailed
		} else {
			e.proc(j.op)
		}
		j.op.CompletedAt = time.Now()
		j.qp.complete(j.op)
	}
}

// enqueue hands one job to the workers without blocking.
func (e *Engine) enqueue(j job) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	select {
	case e.work <- j:
		return true
	default:
		return false
	}
}

// Open returns a queue pair holding at most depth submitted-but-uncollected
// operations.
func (e *Engine) Open(depth int) api.AcceleratorDevice {
	if depth <= 0 {
		depth = 1
	}
	return &QueuePair{eng: e, depth: int64(depth), done: queue.New()}
}

// Close stops the workers. Jobs still queued complete with api.OpFailed
// and stay collectable on their queue pairs.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopped.Store(true)
	close(e.work)
	e.mu.Unlock()
	e.wg.Wait()
	e.log.Debug("engine stopped", zap.String("engine", e.name))
	return nil
}

// QueuePair is one stage instance's private view of an Engine.
type QueuePair struct {
	eng      *Engine
	depth    int64
	inflight atomic.Int64
	closed   atomic.Bool

	mu   sync.Mutex
	done *queue.Queue
}

var _ api.AcceleratorDevice = (*QueuePair)(nil)

// Name returns the engine kind.
func (qp *QueuePair) Name() string { return qp.eng.name }

// Submit accepts operations until the pair depth or the engine queue is full.
func (qp *QueuePair) Submit(ops []*api.Op) int {
	if qp.closed.Load() {
		return 0
	}
	for i, op := range ops {
		if qp.inflight.Load() >= qp.depth {
			return i
		}
		qp.inflight.Add(1)
		if !qp.eng.enqueue(job{op: op, qp: qp}) {
			qp.inflight.Add(-1)
			return i
		}
	}
	return len(ops)
}

// Collect pops up to len(dst) completions in completion order.
func (qp *QueuePair) Collect(dst []*api.Op) int {
	qp.mu.Lock()
	n := 0
	for n < len(dst) && qp.done.Length() > 0 {
		dst[n] = qp.done.Remove().(*api.Op)
		n++
	}
	qp.mu.Unlock()
	if n > 0 {
		qp.inflight.Add(int64(-n))
	}
	return n
}

// Stop refuses further submissions; in-flight work still completes.
func (qp *QueuePair) Stop() error {
	qp.closed.Store(true)
	return nil
}

// Inflight returns operations submitted and not yet collected.
func (qp *QueuePair) Inflight() int { return int(qp.inflight.Load()) }

func (qp *QueuePair) complete(op *api.Op) {
	qp.mu.Lock()
	qp.done.Add(op)
	qp.mu.Unlock()
}
