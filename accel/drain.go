// File: accel/drain.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package accel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
)

// DrainTarget is anything holding in-flight accelerator work: an Adapter,
// an accelerator stage, or a composite containing one.
type DrainTarget interface {
	Exec(in []api.Buffer) []api.Buffer
	Outstanding() int
}

// DrainOptions bounds a shutdown drain.
type DrainOptions struct {
	MaxIterations int           // Exec(nil) calls before giving up
	Timeout       time.Duration // wall-clock bound, 0 for none
	Interval      time.Duration // pause after an iteration that recovered nothing
	Name          string        // for logs
	// Sink receives recovered buffers. Nil releases them.
	Sink func([]api.Buffer)
}

// DefaultDrainOptions returns the bounds used by the runtime controller.
func DefaultDrainOptions() DrainOptions {
	return DrainOptions{
		MaxIterations: 1000,
		Timeout:       2 * time.Second,
		Interval:      100 * time.Microsecond,
	}
}

// DrainResult reports what a drain achieved.
type DrainResult struct {
	Iterations int
	Recovered  int
	Abandoned  int
}

// Drain calls t.Exec(nil) until Outstanding reaches zero or a bound is hit.
// Hitting the bound is logged as an alert and reported as
// api.ErrDrainTimeout; the abandoned operations are left to the device.
func Drain(ctx context.Context, t DrainTarget, opts DrainOptions, log *zap.Logger) (DrainResult, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultDrainOptions().MaxIterations
	}
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}

	var res DrainResult
	for t.Outstanding() > 0 {
		if res.Iterations >= opts.MaxIterations ||
			(!deadline.IsZero() && time.Now().After(deadline)) ||
			ctx.Err() != nil {
			res.Abandoned = t.Outstanding()
			log.Error("accelerator drain bound reached",
				zap.Bool("alert", true),
				zap.String("target", opts.Name),
				zap.Int("iterations", res.Iterations),
				zap.Int("recovered", res.Recovered),
				zap.Int("abandoned", res.Abandoned))
			return res, api.ErrDrainTimeout
		}
		res.Iterations++
		out := t.Exec(nil)
		res.Recovered += len(out)
		if len(out) > 0 {
			if opts.Sink != nil {
				opts.Sink(out)
			} else {
				for _, b := range out {
					b.Release()
				}
			}
			continue
		}
		if opts.Interval > 0 {
			timer := time.NewTimer(opts.Interval)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}
	}
	log.Debug("accelerator drain complete",
		zap.String("target", opts.Name),
		zap.Int("iterations", res.Iterations),
		zap.Int("recovered", res.Recovered))
	return res, nil
}
