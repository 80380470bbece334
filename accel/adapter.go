// File: accel/adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package accel

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/stats"
)

// ErrorPolicy decides what happens to a buffer whose operation failed.
type ErrorPolicy int

const (
	// DropOnError releases the buffer and counts a drop.
	DropOnError ErrorPolicy = iota
	// ForwardOnError passes the buffer downstream unchanged.
	ForwardOnError
)

// DefaultMaxStall bounds how long Exec waits for a free slot or device
// queue space before dropping the rest of its input.
const DefaultMaxStall = 50 * time.Millisecond

// Config parameterizes an Adapter.
type Config struct {
	Name     string // counter prefix, usually the stage type
	PoolSize int    // operation slots, normally the stage batch size
	Policy   ErrorPolicy
	MaxStall time.Duration

	// Scratch returns the output buffer for src; nil means in place.
	Scratch func(src api.Buffer) api.Buffer
	// Params returns device parameters for src.
	Params func(src api.Buffer) any
	// OnComplete runs before Dst is released, e.g. to copy results back.
	OnComplete func(op *api.Op)
}

// Adapter drives one AcceleratorDevice on behalf of one stage instance.
// It is confined to the worker goroutine running the stage.
type Adapter struct {
	dev api.AcceleratorDevice
	cfg Config
	log *zap.Logger

	slots       []api.Op
	busy        []bool
	next        int
	free        int
	outstanding atomic.Int64 // written by the owner, read by Drain

	submitBuf  []*api.Op
	collectBuf []*api.Op
	out        []api.Buffer

	st        *stats.Slot
	submitted *stats.Counter
	completed *stats.Counter
	rounds    *stats.Counter
	collects  *stats.Counter
	stalls    *stats.Counter
	dropped   *stats.Counter
	strays    *stats.Counter
	errs      map[api.OpStatus]*stats.Counter
	latency   *stats.Histogram
}

// NewAdapter binds dev to a slot pool of cfg.PoolSize operations. Counters
// are registered on st under cfg.Name.
func NewAdapter(dev api.AcceleratorDevice, cfg Config, st *stats.Slot, log *zap.Logger) (*Adapter, error) {
	if dev == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "accel: nil device")
	}
	if cfg.PoolSize <= 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "accel: pool size must be positive").
			WithContext("pool_size", cfg.PoolSize)
	}
	if cfg.Name == "" {
		cfg.Name = dev.Name()
	}
	if cfg.MaxStall <= 0 {
		cfg.MaxStall = DefaultMaxStall
	}
	if log == nil {
		log = zap.NewNop()
	}
	if st == nil {
		st = stats.NewTable(1).Slot(0)
	}
	a := &Adapter{
		dev:        dev,
		cfg:        cfg,
		log:        log,
		slots:      make([]api.Op, cfg.PoolSize),
		busy:       make([]bool, cfg.PoolSize),
		free:       cfg.PoolSize,
		submitBuf:  make([]*api.Op, 0, cfg.PoolSize),
		collectBuf: make([]*api.Op, cfg.PoolSize),
		out:        make([]api.Buffer, 0, 2*cfg.PoolSize),
		st:         st,
		submitted:  st.Counter(cfg.Name + ".submitted"),
		completed:  st.Counter(cfg.Name + ".completed"),
		rounds:     st.Counter(cfg.Name + ".submit_rounds"),
		collects:   st.Counter(cfg.Name + ".collect_passes"),
		stalls:     st.Counter(cfg.Name + ".stall_drops"),
		dropped:    st.Counter(cfg.Name + ".error_drops"),
		strays:     st.Counter(cfg.Name + ".stray_completions"),
		errs:       make(map[api.OpStatus]*stats.Counter),
		latency:    st.Histogram(cfg.Name + ".latency_ns"),
	}
	for i := range a.slots {
		a.slots[i].Slot = i
	}
	for _, s := range []api.OpStatus{api.OpTimeout, api.OpResourceLimit, api.OpMalformed, api.OpMatchOverflow, api.OpFailed} {
		a.errs[s] = st.Counter(cfg.Name + ".err." + s.String())
	}
	return a, nil
}

// Outstanding returns operations submitted and not yet collected.
func (a *Adapter) Outstanding() int { return int(a.outstanding.Load()) }

// PoolSize returns the number of operation slots.
func (a *Adapter) PoolSize() int { return len(a.slots) }

// Exec submits in and returns whatever completed. The returned slice is
// owned by the adapter and valid until the next call. Every input buffer
// ends up forwarded, dropped, or held by an outstanding operation.
func (a *Adapter) Exec(in []api.Buffer) []api.Buffer {
	a.out = a.out[:0]
	if len(in) == 0 {
		if a.outstanding.Load() > 0 {
			a.collect()
		}
		return a.out
	}

	var stallSince time.Time
	for i := 0; i < len(in); {
		if a.free == 0 {
			if a.collect() > 0 {
				stallSince = time.Time{}
				continue
			}
			if a.stalled(&stallSince) {
				a.dropRest(in[i:])
				break
			}
			continue
		}

		chunk := in[i:min(len(in), i+a.free)]
		accepted := a.submit(chunk)
		i += accepted
		// interleave a collect pass after every partial submission
		collected := a.collect()
		if accepted == 0 && collected == 0 {
			if a.stalled(&stallSince) {
				a.dropRest(in[i:])
				break
			}
			continue
		}
		stallSince = time.Time{}
	}
	return a.out
}

// submit binds chunk to free slots and hands them to the device. Slots the
// device did not accept are unbound again.
func (a *Adapter) submit(chunk []api.Buffer) int {
	now := time.Now()
	a.submitBuf = a.submitBuf[:0]
	for _, src := range chunk {
		op := a.acquireSlot()
		src.Retain()
		op.Src = src
		op.Dst = src
		if a.cfg.Scratch != nil {
			if dst := a.cfg.Scratch(src); dst != nil {
				op.Dst = dst
			}
		}
		if a.cfg.Params != nil {
			op.Params = a.cfg.Params(src)
		}
		op.Status = api.OpPending
		op.SubmittedAt = now
		a.submitBuf = append(a.submitBuf, op)
	}

	accepted := a.dev.Submit(a.submitBuf)
	if accepted < 0 {
		accepted = 0
	}
	for _, op := range a.submitBuf[accepted:] {
		if op.Dst != nil && op.Dst != op.Src {
			op.Dst.Release()
		}
		op.Src.Release()
		a.releaseSlot(op)
	}
	if accepted > 0 {
		a.outstanding.Add(int64(accepted))
		a.submitted.Add(uint64(accepted))
		a.rounds.Inc()
	}
	return accepted
}

// collect runs one non-blocking collect pass and returns the number of
// completed operations. Only ops bound to a busy slot of this adapter are
// completed; anything else the device hands back is counted and skipped.
func (a *Adapter) collect() int {
	a.collects.Inc()
	got := a.dev.Collect(a.collectBuf)
	done := 0
	for _, op := range a.collectBuf[:got] {
		if !a.owns(op) {
			a.strays.Inc()
			continue
		}
		a.complete(op)
		done++
	}
	clear(a.collectBuf[:got])
	if got != done {
		a.log.Error("device returned completions for ops not in flight",
			zap.String("device", a.dev.Name()),
			zap.Int("collected", got),
			zap.Int("completed", done),
			zap.Int("outstanding", a.Outstanding()))
	}
	a.outstanding.Add(-int64(done))
	a.completed.Add(uint64(done))
	return done
}

// owns reports whether op is one of this adapter's slots and in flight.
func (a *Adapter) owns(op *api.Op) bool {
	if op == nil || op.Slot < 0 || op.Slot >= len(a.slots) {
		return false
	}
	return &a.slots[op.Slot] == op && a.busy[op.Slot]
}

func (a *Adapter) complete(op *api.Op) {
	src, dst := op.Src, op.Dst
	if !op.CompletedAt.IsZero() {
		a.latency.ObserveDuration(op.CompletedAt.Sub(op.SubmittedAt))
	} else {
		a.latency.ObserveDuration(time.Since(op.SubmittedAt))
	}
	ok := op.Status == api.OpSuccess
	if !ok {
		if c, found := a.errs[op.Status]; found {
			c.Inc()
		} else {
			a.errs[api.OpFailed].Inc()
		}
		a.log.Debug("accelerator op failed",
			zap.String("device", a.dev.Name()),
			zap.Stringer("status", op.Status),
			zap.Uint64("seq", src.Meta().Seq))
	}
	if a.cfg.OnComplete != nil {
		a.cfg.OnComplete(op)
	}
	if dst != nil && dst != src {
		dst.Release()
	}
	a.releaseSlot(op)

	// drop the reference taken at submit; the caller's reference remains
	src.Release()
	if ok || a.cfg.Policy == ForwardOnError {
		a.out = append(a.out, src)
		return
	}
	src.Release()
	a.dropped.Inc()
	a.st.AddDrop(1)
}

func (a *Adapter) acquireSlot() *api.Op {
	for {
		i := a.next
		a.next++
		if a.next == len(a.slots) {
			a.next = 0
		}
		if !a.busy[i] {
			a.busy[i] = true
			a.free--
			return &a.slots[i]
		}
	}
}

func (a *Adapter) releaseSlot(op *api.Op) {
	if !a.busy[op.Slot] {
		return
	}
	a.busy[op.Slot] = false
	a.free++
	op.Reset()
}

func (a *Adapter) stalled(since *time.Time) bool {
	if since.IsZero() {
		*since = time.Now()
		return false
	}
	if time.Since(*since) < a.cfg.MaxStall {
		runtime.Gosched()
		return false
	}
	return true
}

func (a *Adapter) dropRest(rest []api.Buffer) {
	if len(rest) == 0 {
		return
	}
	a.log.Warn("accelerator stalled, dropping input",
		zap.String("device", a.dev.Name()),
		zap.Int("dropped", len(rest)),
		zap.Int("outstanding", a.Outstanding()))
	for _, b := range rest {
		b.Release()
	}
	a.stalls.Add(uint64(len(rest)))
	a.st.AddDrop(len(rest))
}
