package pkt

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tuple = FiveTuple{
	Src:     netip.MustParseAddr("10.0.0.1"),
	Dst:     netip.MustParseAddr("192.168.1.7"),
	SrcPort: 40000,
	DstPort: 80,
}

func TestParseUDP(t *testing.T) {
	frame, err := BuildUDP(tuple, []byte("hello"))
	require.NoError(t, err)

	p := NewParser()
	var info Info
	require.NoError(t, p.Parse(frame, &info))
	assert.True(t, info.IPv4)
	assert.Equal(t, 14, info.L3Offset)
	assert.Equal(t, 34, info.L4Offset)
	assert.Equal(t, 42, info.PayloadOffset)
	assert.Equal(t, 5, info.PayloadLen)
	assert.Equal(t, tuple.Src, info.Tuple.Src)
	assert.Equal(t, tuple.Dst, info.Tuple.Dst)
	assert.Equal(t, uint16(80), info.Tuple.DstPort)
	assert.Equal(t, uint8(17), info.Tuple.Proto)

	hdr := frame[info.L3Offset:info.L4Offset]
	assert.Equal(t, binary.BigEndian.Uint16(hdr[10:]), IPv4Checksum(hdr))
}

func TestPayloadTCP(t *testing.T) {
	frame, err := BuildTCP(tuple, []byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	p := NewParser()
	payload, ok := p.Payload(frame)
	assert.True(t, ok)
	assert.Equal(t, "GET / HTTP/1.1\r\n\r\n", string(payload))
}

func TestPayloadFallsBackToRawBytes(t *testing.T) {
	p := NewParser()
	raw := []byte("not a frame")
	payload, ok := p.Payload(raw)
	assert.False(t, ok)
	assert.Equal(t, raw, payload)

	var info Info
	assert.Error(t, p.Parse(make([]byte, 64), &info))
}

func TestHashDependsOnTupleAndSeed(t *testing.T) {
	other := tuple
	other.SrcPort++
	assert.Equal(t, tuple.Hash(1), tuple.Hash(1))
	assert.NotEqual(t, tuple.Hash(1), tuple.Hash(2))
	assert.NotEqual(t, tuple.Hash(1), other.Hash(1))
}
