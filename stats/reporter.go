// File: stats/reporter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Periodic and end-of-run statistics tables.

package stats

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
)

// Reporter prints the statistics table to a writer.
type Reporter struct {
	table    *Table
	out      io.Writer
	log      *zap.Logger
	interval atomic.Int64
	retune   chan struct{}

	mu     sync.RWMutex
	labels map[int]string
}

// NewReporter creates a reporter. interval <= 0 disables periodic output.
func NewReporter(t *Table, out io.Writer, interval time.Duration, log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reporter{
		table:  t,
		out:    out,
		log:    log,
		retune: make(chan struct{}, 1),
		labels: make(map[int]string),
	}
	r.interval.Store(int64(interval))
	return r
}

// SetLabel attaches a description (stage type, layer/instance) to a slot.
func (r *Reporter) SetLabel(slot int, label string) {
	r.mu.Lock()
	r.labels[slot] = label
	r.mu.Unlock()
}

// Interval returns the current periodic interval.
func (r *Reporter) Interval() time.Duration { return time.Duration(r.interval.Load()) }

// SetInterval changes the periodic interval; a running loop picks it up
// immediately.
func (r *Reporter) SetInterval(d time.Duration) {
	r.interval.Store(int64(d))
	select {
	case r.retune <- struct{}{}:
	default:
	}
}

// Run prints the table every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	for {
		var tick <-chan time.Time
		var timer *time.Timer
		if d := r.Interval(); d > 0 {
			timer = time.NewTimer(d)
			tick = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-r.retune:
			if timer != nil {
				timer.Stop()
			}
		case <-tick:
			if err := r.Print("periodic"); err != nil {
				r.log.Warn("stats print failed", zap.Error(err))
			}
		}
	}
}

// Print writes one table with the given heading.
func (r *Reporter) Print(heading string) error {
	return r.Write(r.out, heading)
}

// Write renders per-slot counters, totals, custom counters and latency
// summaries to w.
func (r *Reporter) Write(w io.Writer, heading string) error {
	if w == nil {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "== %s statistics ==\n", heading)
	fmt.Fprintln(tw, "slot\tlabel\trx_bufs\trx_bytes\ttx_bufs\ttx_bytes\tbatches\texecs\tdrops\t")

	r.mu.RLock()
	for _, s := range r.table.Snapshot() {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
			s.Slot, r.labels[s.Slot], s.RxBufs, s.RxBytes, s.TxBufs, s.TxBytes, s.Batches, s.ExecCalls, s.Drops)
	}
	r.mu.RUnlock()

	t := r.table.Totals()
	fmt.Fprintf(tw, "total\t\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
		t.RxBufs, t.RxBytes, t.TxBufs, t.TxBytes, t.Batches, t.ExecCalls, t.Drops)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(t.Custom)+len(t.Gauges) > 0 {
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "counter\tvalue\t")
		for _, name := range t.CustomNames() {
			fmt.Fprintf(tw, "%s\t%d\t\n", name, t.Custom[name])
		}
		for _, name := range t.GaugeNames() {
			fmt.Fprintf(tw, "%s\t%d\t\n", name, t.Gauges[name])
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if len(t.Hists) > 0 {
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "histogram\tcount\tmean\tstddev\tp50\tp90\tp99\tmax\t")
		for _, name := range t.HistNames() {
			s := t.Hists[name].Summary()
			fmt.Fprintf(tw, "%s\t%d\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\t%d\t\n",
				name, s.Count, s.Mean, s.StdDev, s.P50, s.P90, s.P99, s.Max)
		}
		return tw.Flush()
	}
	return nil
}
