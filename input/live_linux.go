//go:build linux

// File: input/live_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/mdlayher/packet"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/reactor"
)

// livePollTimeout bounds one readiness wait so the driver keeps polling
// its stop flag and the tail queue.
const livePollTimeout = time.Millisecond

type liveConn struct {
	name string
	conn *packet.Conn
	raw  syscall.RawConn
	fd   int
}

// LiveSource reads raw Ethernet frames from one or more interfaces.
// Readiness comes from an epoll reactor; reads never block.
type LiveSource struct {
	cfg   Config
	deps  Deps
	log   *zap.Logger
	conns []liveConn
	r     reactor.EventReactor
	ev    []reactor.Event

	truncated int
	poolEmpty int
}

var _ Source = (*LiveSource)(nil)

// NewLiveSource builds a live-mode source.
func NewLiveSource(cfg Config, deps Deps) (Source, error) {
	return &LiveSource{cfg: cfg, deps: deps, log: deps.log().Named("input.live")}, nil
}

func (s *LiveSource) Init() error {
	var err error
	if s.r, err = reactor.NewReactor(); err != nil {
		return err
	}
	var pc packet.Config
	if s.cfg.EtherType != 0 {
		if pc.Filter, err = etherTypeFilter(s.cfg.EtherType); err != nil {
			return fmt.Errorf("input live: filter: %w", err)
		}
	}
	for i, name := range s.cfg.Interfaces {
		ifi, err := resolveLink(name)
		if err != nil {
			return err
		}
		conn, err := packet.Listen(ifi, packet.Raw, unix.ETH_P_ALL, &pc)
		if err != nil {
			return api.NewError(api.ErrCodeNotSupported, "input live: raw socket").WithContext("interface", name).Wrap(err)
		}
		lc := liveConn{name: name, conn: conn, fd: -1}
		s.conns = append(s.conns, lc)
		if s.cfg.Promiscuous {
			if err := conn.SetPromiscuous(true); err != nil {
				return fmt.Errorf("input live %s: promiscuous: %w", name, err)
			}
		}
		if lc.raw, err = conn.SyscallConn(); err != nil {
			return fmt.Errorf("input live %s: %w", name, err)
		}
		if err := lc.raw.Control(func(fd uintptr) { lc.fd = int(fd) }); err != nil {
			return fmt.Errorf("input live %s: %w", name, err)
		}
		s.conns[i] = lc
		if err := s.r.Register(lc.fd, uintptr(i)); err != nil {
			return fmt.Errorf("input live %s: %w", name, err)
		}
		s.log.Info("listening", zap.String("interface", name), zap.Int("index", ifi.Index),
			zap.Uint16("ether_type", s.cfg.EtherType), zap.Bool("promiscuous", s.cfg.Promiscuous))
	}
	s.ev = make([]reactor.Event, len(s.conns))
	return nil
}

// resolveLink looks the interface up through netlink and requires it to be
// administratively up.
func resolveLink(name string) (*net.Interface, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, api.ConfigError("input live: interface %q", name).WithContext("interface", name).Wrap(err)
	}
	attrs := link.Attrs()
	if attrs.Flags&net.FlagUp == 0 {
		return nil, api.ConfigError("input live: interface %q is down", name).WithContext("interface", name)
	}
	ifi, err := net.InterfaceByIndex(attrs.Index)
	if err != nil {
		return nil, fmt.Errorf("input live %s: %w", name, err)
	}
	return ifi, nil
}

func (s *LiveSource) Next(dst []api.Buffer) (int, error) {
	n, err := s.r.Wait(s.ev, livePollTimeout)
	if err != nil {
		return 0, err
	}
	got := 0
	for _, ev := range s.ev[:n] {
		if !ev.Readable {
			continue
		}
		c := s.conns[ev.UserData]
		m, err := s.read(c, uint16(ev.UserData), dst[got:])
		got += m
		if err != nil {
			return got, err
		}
		if got == len(dst) {
			break
		}
	}
	return got, nil
}

// read drains ready frames from c into dst without blocking.
func (s *LiveSource) read(c liveConn, port uint16, dst []api.Buffer) (int, error) {
	got := 0
	for got < len(dst) {
		b := s.deps.Pool.Get(s.deps.MaxLen, -1)
		if b == nil {
			s.poolEmpty++
			return got, nil
		}
		var (
			n    int
			rerr error
		)
		err := c.raw.Read(func(fd uintptr) bool {
			n, _, rerr = unix.Recvfrom(int(fd), b.Bytes(), unix.MSG_DONTWAIT|unix.MSG_TRUNC)
			return true
		})
		if err == nil {
			err = rerr
		}
		if err != nil {
			b.Release()
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return got, nil
			}
			return got, fmt.Errorf("input live %s: %w", c.name, err)
		}
		if n > b.Len() {
			// MSG_TRUNC reports the full frame length
			s.truncated++
			n = b.Len()
		}
		b.SetLen(n)
		b.Meta().Port = port
		dst[got] = b
		got++
	}
	return got, nil
}

// Clean closes every socket and the reactor.
func (s *LiveSource) Clean() error {
	var errs []error
	for _, c := range s.conns {
		if c.conn != nil {
			if err := c.conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	s.conns = nil
	if s.r != nil {
		errs = append(errs, s.r.Close())
		s.r = nil
	}
	if s.truncated > 0 || s.poolEmpty > 0 {
		s.log.Info("live input closed", zap.Int("truncated", s.truncated), zap.Int("pool_empty", s.poolEmpty))
	}
	return errors.Join(errs...)
}
