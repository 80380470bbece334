// File: stages/reorder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stages

import (
	"time"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

// Reorder restores head-of-pipeline sequence order within a window,
// starting from start_seq (the first sequence number the driver stamps).
// Buffers are released in Seq order; a gap that stays open longer than the
// timeout is skipped. Buffers older than the release point pass through
// immediately and are counted as late. Held buffers are reported through
// Outstanding so shutdown drains them.
type Reorder struct {
	slots   []api.Buffer
	next    uint64
	held    int
	timeout time.Duration
	gapAt   time.Time
	now     func() time.Time
	out     []api.Buffer

	late    *stats.Counter
	skipped *stats.Counter
	holding *stats.Gauge
}

var (
	_ stage.Stage   = (*Reorder)(nil)
	_ stage.Pending = (*Reorder)(nil)
)

func (r *Reorder) Init(env *stage.Env) error {
	window, err := env.IntParam("window", 1024)
	if err != nil {
		return err
	}
	us, err := env.IntParam("timeout_us", 1000)
	if err != nil {
		return err
	}
	start, err := env.IntParam("start_seq", 0)
	if err != nil {
		return err
	}
	if window <= 0 || us < 0 || start < 0 {
		return api.ConfigError("reorder: window must be positive, timeout_us and start_seq non-negative").WithContext("stage", env.Type)
	}
	r.slots = make([]api.Buffer, window)
	r.next = uint64(start)
	r.timeout = time.Duration(us) * time.Microsecond
	if r.now == nil {
		r.now = time.Now
	}
	r.out = make([]api.Buffer, 0, max(env.BatchSize, 1)+window)
	st := env.Stats()
	r.late = st.Counter("reorder.late")
	r.skipped = st.Counter("reorder.skipped")
	r.holding = st.Gauge("reorder.held")
	return nil
}

func (r *Reorder) Exec(in []api.Buffer) []api.Buffer {
	r.out = r.out[:0]
	w := uint64(len(r.slots))
	for _, b := range in {
		s := b.Meta().Seq
		if s < r.next {
			r.late.Inc()
			r.out = append(r.out, b)
			continue
		}
		if s >= r.next+w {
			r.flush()
			r.next = max(r.next, s-w+1)
		}
		idx := s % w
		if r.slots[idx] != nil {
			r.late.Inc() // duplicate sequence number
			r.out = append(r.out, b)
			continue
		}
		r.slots[idx] = b
		r.held++
	}
	r.release()

	if r.held == 0 {
		r.gapAt = time.Time{}
	} else if now := r.now(); r.gapAt.IsZero() {
		r.gapAt = now
	} else if now.Sub(r.gapAt) >= r.timeout {
		r.flush()
		r.gapAt = time.Time{}
	}
	r.holding.Set(int64(r.held))
	return r.out
}

// release emits the in-order run starting at next.
func (r *Reorder) release() {
	w := uint64(len(r.slots))
	for r.held > 0 {
		idx := r.next % w
		b := r.slots[idx]
		if b == nil {
			return
		}
		r.out = append(r.out, b)
		r.slots[idx] = nil
		r.held--
		r.next++
	}
}

// flush emits every held buffer in order, skipping gaps.
func (r *Reorder) flush() {
	w := uint64(len(r.slots))
	for r.held > 0 {
		idx := r.next % w
		if b := r.slots[idx]; b != nil {
			r.out = append(r.out, b)
			r.slots[idx] = nil
			r.held--
		} else {
			r.skipped.Inc()
		}
		r.next++
	}
}

// Outstanding returns the number of held buffers as of the last Exec.
// Safe to call from other goroutines.
func (r *Reorder) Outstanding() int { return int(r.holding.Load()) }

// Free releases anything still held.
func (r *Reorder) Free() error {
	for i, b := range r.slots {
		if b != nil {
			b.Release()
			r.slots[i] = nil
		}
	}
	r.held = 0
	r.holding.Set(0)
	return nil
}
