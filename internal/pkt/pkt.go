// File: internal/pkt/pkt.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Layer 2-4 decoding of raw frames for the built-in stages: 5-tuple
// extraction and application payload location.

package pkt

import (
	"encoding/binary"
	"errors"
	"net/netip"

	"github.com/cespare/xxhash/v2"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNoTransport is returned for frames without a TCP or UDP header.
var ErrNoTransport = errors.New("pkt: no tcp/udp header")

// FiveTuple identifies a flow.
type FiveTuple struct {
	Src     netip.Addr
	Dst     netip.Addr
	SrcPort uint16
	DstPort uint16
	Proto   uint8
}

// Hash returns a seeded 64-bit flow hash.
func (f FiveTuple) Hash(seed uint64) uint64 {
	var buf [8 + 16 + 16 + 5]byte
	binary.LittleEndian.PutUint64(buf[0:], seed)
	s, d := f.Src.As16(), f.Dst.As16()
	copy(buf[8:], s[:])
	copy(buf[24:], d[:])
	binary.BigEndian.PutUint16(buf[40:], f.SrcPort)
	binary.BigEndian.PutUint16(buf[42:], f.DstPort)
	buf[44] = f.Proto
	return xxhash.Sum64(buf[:])
}

// Info is the decoded view of one frame.
type Info struct {
	Tuple         FiveTuple
	IPv4          bool
	L3Offset      int
	L4Offset      int
	PayloadOffset int
	PayloadLen    int
}

// Parser decodes Ethernet (optionally VLAN tagged) IPv4/IPv6 TCP/UDP
// frames without allocating. A Parser is owned by one stage instance.
type Parser struct {
	eth     layers.Ethernet
	vlan    layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	payload gopacket.Payload

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewParser builds a parser starting at the Ethernet layer.
func NewParser() *Parser {
	p := &Parser{decoded: make([]gopacket.LayerType, 0, 8)}
	p.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&p.eth, &p.vlan, &p.ip4, &p.ip6, &p.tcp, &p.udp, &p.payload)
	p.parser.IgnoreUnsupported = true
	return p
}

// Parse fills info from data. It fails for non-IP frames and for IP
// frames without a TCP or UDP header; the L3 fields are still set in the
// latter case.
func (p *Parser) Parse(data []byte, info *Info) error {
	*info = Info{}
	p.decoded = p.decoded[:0]
	if err := p.parser.DecodeLayers(data, &p.decoded); err != nil {
		return err
	}
	off := 0
	l3, l4 := false, false
	for _, lt := range p.decoded {
		switch lt {
		case layers.LayerTypeEthernet:
			off += len(p.eth.Contents)
		case layers.LayerTypeDot1Q:
			off += len(p.vlan.Contents)
		case layers.LayerTypeIPv4:
			l3 = true
			info.IPv4 = true
			info.L3Offset = off
			info.Tuple.Src, _ = netip.AddrFromSlice(p.ip4.SrcIP.To4())
			info.Tuple.Dst, _ = netip.AddrFromSlice(p.ip4.DstIP.To4())
			info.Tuple.Proto = uint8(p.ip4.Protocol)
			off += len(p.ip4.Contents)
			info.L4Offset = off
		case layers.LayerTypeIPv6:
			l3 = true
			info.L3Offset = off
			info.Tuple.Src, _ = netip.AddrFromSlice(p.ip6.SrcIP)
			info.Tuple.Dst, _ = netip.AddrFromSlice(p.ip6.DstIP)
			info.Tuple.Proto = uint8(p.ip6.NextHeader)
			off += len(p.ip6.Contents)
			info.L4Offset = off
		case layers.LayerTypeTCP:
			l4 = true
			info.Tuple.SrcPort = uint16(p.tcp.SrcPort)
			info.Tuple.DstPort = uint16(p.tcp.DstPort)
			off += len(p.tcp.Contents)
			info.PayloadOffset = off
			info.PayloadLen = len(p.tcp.Payload)
		case layers.LayerTypeUDP:
			l4 = true
			info.Tuple.SrcPort = uint16(p.udp.SrcPort)
			info.Tuple.DstPort = uint16(p.udp.DstPort)
			off += len(p.udp.Contents)
			info.PayloadOffset = off
			info.PayloadLen = len(p.udp.Payload)
		}
	}
	if !l3 {
		return errors.New("pkt: not an ip frame")
	}
	if !l4 {
		return ErrNoTransport
	}
	return nil
}

// Payload returns the application payload of data, or data itself when
// it does not decode as a TCP/UDP frame. ok reports which case applied.
func (p *Parser) Payload(data []byte) (payload []byte, ok bool) {
	var info Info
	if err := p.Parse(data, &info); err != nil {
		return data, false
	}
	end := min(info.PayloadOffset+info.PayloadLen, len(data))
	return data[info.PayloadOffset:end], true
}
