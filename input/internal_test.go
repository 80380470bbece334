// File: input/internal_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/pool"
)

func frame(etherType uint16, vlanInner uint16) []byte {
	f := make([]byte, 64)
	if vlanInner != 0 {
		f[12], f[13] = 0x81, 0x00
		f[16], f[17] = byte(vlanInner>>8), byte(vlanInner)
	} else {
		f[12], f[13] = byte(etherType>>8), byte(etherType)
	}
	return f
}

func TestEtherTypeFilter(t *testing.T) {
	raw, err := etherTypeFilter(0x0800)
	require.NoError(t, err)
	insns, ok := bpf.Disassemble(raw)
	require.True(t, ok)
	vm, err := bpf.NewVM(insns)
	require.NoError(t, err)

	for name, tc := range map[string]struct {
		frame  []byte
		accept bool
	}{
		"ipv4":      {frame(0x0800, 0), true},
		"arp":       {frame(0x0806, 0), false},
		"vlan ipv4": {frame(0, 0x0800), true},
		"vlan ipv6": {frame(0, 0x86dd), false},
	} {
		n, err := vm.Run(tc.frame)
		require.NoError(t, err, name)
		if tc.accept {
			assert.NotZero(t, n, name)
		} else {
			assert.Zero(t, n, name)
		}
	}
}

func TestReplayPacing(t *testing.T) {
	now := time.Unix(100, 0)
	r := newReplay(Config{Mode: "text", Rate: 10}, Deps{
		Pool:  pool.NewPacketPool(pool.PoolConfig{BufferSize: 64}, -1),
		Batch: 4,
		now:   func() time.Time { return now },
	}, "test")
	for i := 0; i < 3; i++ {
		r.add([]byte{byte(i)}, 0)
	}
	r.iterations = 100

	dst := make([]api.Buffer, 8)
	n, err := r.Next(dst)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "burst equals the batch size")
	n, err = r.Next(dst)
	require.NoError(t, err)
	assert.Zero(t, n, "bucket empty at the same instant")

	now = now.Add(200 * time.Millisecond)
	n, err = r.Next(dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{1}, dst[0].Bytes(), "replay resumes after the wrap")
}

func TestSplitRecordsStopsEarly(t *testing.T) {
	desc := WriteMmapDescriptor([][]byte{[]byte("a"), nil, []byte("bc"), []byte("d")})
	region, err := mmapRegion(desc)
	require.NoError(t, err)
	var got []string
	more, err := splitRecords(region, func(rec []byte) bool {
		got = append(got, string(rec))
		return len(got) < 2
	})
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, []string{"a", "bc"}, got, "empty records are skipped")
}
