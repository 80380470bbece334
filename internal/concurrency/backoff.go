// File: internal/concurrency/backoff.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Adaptive idle backoff for polling loops: spin, then yield, then sleep
// with an exponentially growing bounded delay.

package concurrency

import (
	"runtime"
	"time"
)

// Backoff is owned by a single polling goroutine.
type Backoff struct {
	SpinLimit  int           // empty polls answered by a busy retry
	YieldLimit int           // further empty polls answered by runtime.Gosched
	MaxSleep   time.Duration // ceiling for the sleep phase

	idle  int
	sleep time.Duration
}

// NewBackoff returns a backoff with pipeline-friendly defaults.
func NewBackoff(maxSleep time.Duration) *Backoff {
	if maxSleep <= 0 {
		maxSleep = time.Millisecond
	}
	return &Backoff{SpinLimit: 64, YieldLimit: 256, MaxSleep: maxSleep}
}

// Idle is called after an empty poll.
func (b *Backoff) Idle() {
	b.idle++
	switch {
	case b.idle <= b.SpinLimit:
		return
	case b.idle <= b.SpinLimit+b.YieldLimit:
		runtime.Gosched()
		return
	}
	if b.sleep == 0 {
		b.sleep = time.Microsecond
	}
	time.Sleep(b.sleep)
	b.sleep *= 2
	if b.sleep > b.MaxSleep {
		b.sleep = b.MaxSleep
	}
}

// Reset is called after a productive poll.
func (b *Backoff) Reset() {
	b.idle = 0
	b.sleep = 0
}

// Idling reports how many consecutive empty polls were observed.
func (b *Backoff) Idling() int { return b.idle }
