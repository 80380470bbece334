// File: stages/flow.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stages

import (
	"errors"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/internal/pkt"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

// flowKeyer extracts the 5-tuple of each buffer and counts the ones that
// do not decode.
type flowKeyer struct {
	parser   *pkt.Parser
	info     pkt.Info
	unparsed *stats.Counter
	log      *zap.Logger
}

func newFlowKeyer(env *stage.Env, prefix string) flowKeyer {
	return flowKeyer{
		parser:   pkt.NewParser(),
		unparsed: env.Stats().Counter(prefix + ".unparsed"),
		log:      env.Log(),
	}
}

// tuple decodes b. A frame with an IP header but no transport header still
// yields the address part of the tuple.
func (k *flowKeyer) tuple(b api.Buffer) (pkt.FiveTuple, bool) {
	err := k.parser.Parse(b.Bytes(), &k.info)
	if err == nil || errors.Is(err, pkt.ErrNoTransport) {
		return k.info.Tuple, true
	}
	k.unparsed.Inc()
	if ce := k.log.Check(zap.DebugLevel, "undecodable packet"); ce != nil {
		ce.Write(zap.Int("len", b.Len()), zap.Error(err))
	}
	return pkt.FiveTuple{}, false
}
