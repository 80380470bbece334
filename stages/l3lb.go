// File: stages/l3lb.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stages

import (
	"encoding/binary"
	"net/netip"
	"strings"
	"time"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/internal/pkt"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

const (
	l3lbDefaultTableSize = 128
	l3lbDefaultExpiry    = 32 * time.Second
	l3lbDefaultBackends  = "10.0.1.1,10.0.1.2,10.0.1.3,10.0.1.4,10.0.1.5,10.0.1.6,10.0.1.7,10.0.1.8"
)

type lbFlow struct {
	backend  int
	lastSeen time.Time
}

// L3LB assigns each IPv4 flow to a backend round-robin and rewrites the
// destination address, fixing the IPv4 and transport checksums in place.
type L3LB struct {
	parser   *pkt.Parser
	info     pkt.Info
	backends []netip.Addr
	flows    map[pkt.FiveTuple]*lbFlow
	size     int
	expiry   time.Duration
	next     int
	now      func() time.Time

	rewritten *stats.Counter
	skipped   *stats.Counter
	full      *stats.Counter
	evicted   *stats.Counter
	active    *stats.Gauge
}

var _ stage.Stage = (*L3LB)(nil)

func (l *L3LB) Init(env *stage.Env) error {
	var err error
	if l.size, err = env.IntParam("flow_table_size", l3lbDefaultTableSize); err != nil {
		return err
	}
	secs, err := env.IntParam("expiry_seconds", int(l3lbDefaultExpiry/time.Second))
	if err != nil {
		return err
	}
	if l.size <= 0 || secs <= 0 {
		return api.ConfigError("l3_lb: flow_table_size and expiry_seconds must be positive").WithContext("stage", env.Type)
	}
	l.expiry = time.Duration(secs) * time.Second
	for _, s := range strings.Split(env.Param("backends", l3lbDefaultBackends), ",") {
		a, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil || !a.Is4() {
			return api.ConfigError("l3_lb: backend %q is not an IPv4 address", s).WithContext("stage", env.Type)
		}
		l.backends = append(l.backends, a)
	}
	l.parser = pkt.NewParser()
	l.flows = make(map[pkt.FiveTuple]*lbFlow, l.size)
	if l.now == nil {
		l.now = time.Now
	}
	st := env.Stats()
	l.rewritten = st.Counter("l3_lb.rewritten")
	l.skipped = st.Counter("l3_lb.skipped")
	l.full = st.Counter("l3_lb.table_full")
	l.evicted = st.Counter("l3_lb.expired")
	l.active = st.Gauge("l3_lb.flows")
	return nil
}

func (l *L3LB) Exec(in []api.Buffer) []api.Buffer {
	if len(in) == 0 {
		return in
	}
	now := l.now()
	for _, b := range in {
		data := b.Bytes()
		if err := l.parser.Parse(data, &l.info); err != nil || !l.info.IPv4 {
			l.skipped.Inc()
			continue
		}
		key := l.info.Tuple
		key.Dst = netip.Addr{}
		f, ok := l.flows[key]
		if !ok {
			if len(l.flows) >= l.size {
				l.expire(now)
			}
			if len(l.flows) >= l.size {
				l.full.Inc()
				continue
			}
			f = &lbFlow{backend: l.next}
			l.next = (l.next + 1) % len(l.backends)
			l.flows[key] = f
		}
		f.lastSeen = now
		l.rewrite(data, l.backends[f.backend])
		l.rewritten.Inc()
	}
	l.active.Set(int64(len(l.flows)))
	return in
}

func (l *L3LB) expire(now time.Time) {
	for k, f := range l.flows {
		if now.Sub(f.lastSeen) >= l.expiry {
			delete(l.flows, k)
			l.evicted.Inc()
		}
	}
}

// rewrite replaces the IPv4 destination and patches the checksums.
func (l *L3LB) rewrite(data []byte, dst netip.Addr) {
	ip := data[l.info.L3Offset:l.info.L4Offset]
	old := binary.BigEndian.Uint32(ip[16:20])
	nb := dst.As4()
	nw := binary.BigEndian.Uint32(nb[:])
	if old == nw {
		return
	}
	copy(ip[16:20], nb[:])
	binary.BigEndian.PutUint16(ip[10:12], pkt.IPv4Checksum(ip))

	var csumOff int
	switch l.info.Tuple.Proto {
	case 6:
		csumOff = l.info.L4Offset + 16
	case 17:
		csumOff = l.info.L4Offset + 6
		if binary.BigEndian.Uint16(data[csumOff:]) == 0 {
			return // no UDP checksum in use
		}
	default:
		return
	}
	c := binary.BigEndian.Uint16(data[csumOff:])
	binary.BigEndian.PutUint16(data[csumOff:], csumReplace4(c, old, nw))
}

// csumReplace4 updates a ones-complement checksum for a changed 32-bit
// word (RFC 1624, eqn. 3).
func csumReplace4(sum uint16, from, to uint32) uint16 {
	s := uint32(^sum)
	s += uint32(^uint16(from>>16)) + uint32(^uint16(from))
	s += to>>16 + to&0xffff
	for s>>16 != 0 {
		s = s&0xffff + s>>16
	}
	return ^uint16(s)
}

func (l *L3LB) Free() error {
	l.flows = nil
	return nil
}
