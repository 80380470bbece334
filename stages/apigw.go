// File: stages/apigw.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stages

import (
	"crypto/sha1"
	"encoding/binary"
	"time"

	"golang.org/x/time/rate"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

const apiGWDefaultLimiters = 8

// APIGateway authenticates each request by hashing its payload and
// rate-limits it on one of a fixed set of token buckets selected by the
// digest. Over-limit requests are counted, and dropped when drop_limited
// is set.
type APIGateway struct {
	env      *stage.Env
	limiters []*rate.Limiter
	drop     bool
	now      func() time.Time
	out      []api.Buffer

	allowed *stats.Counter
	limited *stats.Counter
}

var _ stage.Stage = (*APIGateway)(nil)

func (g *APIGateway) Init(env *stage.Env) error {
	n, err := env.IntParam("limiters", apiGWDefaultLimiters)
	if err != nil {
		return err
	}
	rps, err := env.IntParam("rate", 100000)
	if err != nil {
		return err
	}
	burst, err := env.IntParam("burst", 6400)
	if err != nil {
		return err
	}
	if n <= 0 || rps <= 0 || burst <= 0 {
		return api.ConfigError("api_gw: limiters, rate and burst must be positive").WithContext("stage", env.Type)
	}
	if g.drop, err = env.BoolParam("drop_limited", false); err != nil {
		return err
	}
	g.limiters = make([]*rate.Limiter, n)
	for i := range g.limiters {
		g.limiters[i] = rate.NewLimiter(rate.Limit(rps), burst)
	}
	if g.now == nil {
		g.now = time.Now
	}
	g.env = env
	g.allowed = env.Stats().Counter("api_gw.allowed")
	g.limited = env.Stats().Counter("api_gw.limited")
	g.out = make([]api.Buffer, 0, max(env.BatchSize, 1))
	return nil
}

func (g *APIGateway) Exec(in []api.Buffer) []api.Buffer {
	g.out = g.out[:0]
	now := g.now()
	for _, b := range in {
		sum := sha1.Sum(b.Bytes())
		key := binary.BigEndian.Uint64(sum[:8]) % uint64(len(g.limiters))
		if g.limiters[key].AllowN(now, 1) {
			g.allowed.Inc()
		} else {
			g.limited.Inc()
			if g.drop {
				b.Release()
				g.env.Stats().AddDrop(1)
				continue
			}
		}
		g.out = append(g.out, b)
	}
	return g.out
}

func (g *APIGateway) Free() error {
	g.limiters, g.out = nil, nil
	return nil
}
