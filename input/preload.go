// File: input/preload.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input

import (
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-nf/api"
)

// record is one preloaded packet and the index of the file it came from.
type record struct {
	data []byte
	port uint16
}

// replay hands preloaded records out as pool buffers, Iterations times
// over, optionally paced by a token bucket.
type replay struct {
	cfg   Config
	deps  Deps
	log   *zap.Logger
	now   func() time.Time
	limit *rate.Limiter

	records    []record
	iterations int
	pos, iter  int

	oversize  int
	poolEmpty int
}

func newReplay(cfg Config, deps Deps, name string) replay {
	r := replay{
		cfg:        cfg,
		deps:       deps,
		log:        deps.log().Named(name),
		now:        deps.clock(),
		iterations: max(cfg.Iterations, 1),
	}
	if cfg.Rate > 0 {
		r.limit = rate.NewLimiter(rate.Limit(cfg.Rate), max(deps.Batch, 1))
	}
	return r
}

// add appends a record unless it is too large for the pool or the
// preload cap has been reached. It reports whether loading should go on.
func (r *replay) add(data []byte, port uint16) bool {
	if r.cfg.MaxPackets > 0 && len(r.records) >= r.cfg.MaxPackets {
		return false
	}
	if r.deps.MaxLen > 0 && len(data) > r.deps.MaxLen {
		r.oversize++
		return true
	}
	r.records = append(r.records, record{data: data, port: port})
	return true
}

// loaded finishes Init: an empty preload is a configuration error.
func (r *replay) loaded(files int) error {
	if r.oversize > 0 {
		r.log.Warn("packets larger than the buffer size skipped",
			zap.Int("skipped", r.oversize), zap.Int("max_len", r.deps.MaxLen))
	}
	if len(r.records) == 0 {
		return api.ConfigError("input %s: no packets loaded", r.cfg.Mode).WithContext("mode", r.cfg.Mode)
	}
	r.log.Info("input preloaded",
		zap.Int("files", files),
		zap.Int("packets", len(r.records)),
		zap.Int("iterations", r.iterations),
		zap.Int("rate", r.cfg.Rate))
	return nil
}

// Len returns the number of preloaded packets.
func (r *replay) Len() int { return len(r.records) }

// Total returns how many buffers the source produces before io.EOF.
func (r *replay) Total() int { return len(r.records) * r.iterations }

func (r *replay) Next(dst []api.Buffer) (int, error) {
	if len(r.records) == 0 || r.iter >= r.iterations {
		return 0, io.EOF
	}
	want := len(dst)
	now := r.now()
	if r.limit != nil {
		want = min(want, int(r.limit.TokensAt(now)))
		if want <= 0 {
			return 0, nil
		}
	}
	n := 0
	for n < want && r.iter < r.iterations {
		rec := r.records[r.pos]
		b := r.deps.Pool.Get(len(rec.data), -1)
		if b == nil {
			r.poolEmpty++
			break
		}
		copy(b.Bytes(), rec.data)
		b.Meta().Port = rec.port
		dst[n] = b
		n++
		if r.pos++; r.pos == len(r.records) {
			r.pos = 0
			r.iter++
		}
	}
	if r.limit != nil && n > 0 {
		r.limit.AllowN(now, n)
	}
	return n, nil
}

// PoolEmpty returns how many times the pool had no buffer to give.
func (r *replay) PoolEmpty() int { return r.poolEmpty }
