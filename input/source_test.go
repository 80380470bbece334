// File: input/source_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/input"
	"github.com/momentics/hioload-nf/pool"
)

func deps() input.Deps {
	return input.Deps{
		Pool:   pool.NewPacketPool(pool.PoolConfig{BufferSize: 256}, -1),
		MaxLen: 256,
		Batch:  4,
	}
}

// collect pulls from src until io.EOF.
func collect(t *testing.T, src input.Source) []api.Buffer {
	t.Helper()
	var out []api.Buffer
	buf := make([]api.Buffer, 4)
	for i := 0; i < 1000; i++ {
		n, err := src.Next(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
	}
	t.Fatal("source never reported io.EOF")
	return nil
}

func payloads(out []api.Buffer) []string {
	s := make([]string, len(out))
	for i, b := range out {
		s[i] = string(b.Bytes())
	}
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistryModes(t *testing.T) {
	r := input.Default()
	assert.Equal(t, []string{"live", "pcap", "remote_mmap", "text"}, r.Modes())

	_, err := r.New(input.Config{Mode: "carrier-pigeon", Files: []string{"x"}}, deps())
	assert.ErrorIs(t, err, api.ErrConfig)
	_, err = r.New(input.Config{Mode: "text"}, deps())
	assert.ErrorIs(t, err, api.ErrConfig, "text needs files")
	_, err = r.New(input.Config{Mode: "live"}, deps())
	assert.ErrorIs(t, err, api.ErrConfig, "live needs interfaces")
	_, err = r.New(input.Config{Mode: "text", Files: []string{"x"}, Iterations: -1}, deps())
	assert.ErrorIs(t, err, api.ErrConfig)
	_, err = r.New(input.Config{Mode: "text", Files: []string{"x"}}, input.Deps{})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	assert.ErrorIs(t, r.Register("text", input.NewTextSource), api.ErrAlreadyExists)
}

func TestTextSourceReplays(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "in.txt", "alpha\n\nbeta\ngamma\n")
	src, err := input.Default().New(input.Config{Mode: "text", Files: []string{path}, Iterations: 2}, deps())
	require.NoError(t, err)
	require.NoError(t, src.Init())
	defer src.Clean()

	out := collect(t, src)
	assert.Equal(t, []string{"alpha", "beta", "gamma", "alpha", "beta", "gamma"}, payloads(out))
	n, err := src.Next(make([]api.Buffer, 4))
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
	for _, b := range out {
		b.Release()
	}
}

func TestTextSourceGlobsAndLimits(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "one\n")
	writeFile(t, dir, "b.txt", "two\nthree\n")
	writeFile(t, dir, "c.log", "ignored\n")
	d := deps()
	d.MaxLen = 4

	src, err := input.Default().New(input.Config{Mode: "text", Files: []string{filepath.Join(dir, "*.txt")}}, d)
	require.NoError(t, err)
	require.NoError(t, src.Init())
	out := collect(t, src)
	assert.Equal(t, []string{"one", "two"}, payloads(out), "three is longer than the buffer")
	assert.Equal(t, uint16(0), out[0].Meta().Port)
	assert.Equal(t, uint16(1), out[1].Meta().Port)
	require.NoError(t, src.Clean())

	src, err = input.Default().New(input.Config{Mode: "text", Files: []string{filepath.Join(dir, "*.txt")}, MaxPackets: 2}, deps())
	require.NoError(t, err)
	require.NoError(t, src.Init())
	assert.Len(t, collect(t, src), 2)
}

func TestTextSourceErrors(t *testing.T) {
	dir := t.TempDir()
	src, err := input.Default().New(input.Config{Mode: "text", Files: []string{filepath.Join(dir, "none-*.txt")}}, deps())
	require.NoError(t, err)
	assert.ErrorIs(t, src.Init(), api.ErrConfig)

	empty := writeFile(t, dir, "empty.txt", "\n\n")
	src, err = input.Default().New(input.Config{Mode: "text", Files: []string{empty}}, deps())
	require.NoError(t, err)
	assert.ErrorIs(t, src.Init(), api.ErrConfig)
}

var frames = [][]byte{
	[]byte("frame-one-0123456789"),
	[]byte("frame-two-abcdefghij"),
}

func TestPcapSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, fr := range frames {
		ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(fr), Length: len(fr)}
		require.NoError(t, w.WritePacket(ci, fr))
	}
	require.NoError(t, f.Close())

	ngPath := filepath.Join(dir, "in.pcapng")
	f, err = os.Create(ngPath)
	require.NoError(t, err)
	ng, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for _, fr := range frames {
		ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(fr), Length: len(fr)}
		require.NoError(t, ng.WritePacket(ci, fr))
	}
	require.NoError(t, ng.Flush())
	require.NoError(t, f.Close())

	src, err := input.Default().New(input.Config{Mode: "pcap", Files: []string{path, ngPath}}, deps())
	require.NoError(t, err)
	require.NoError(t, src.Init())
	defer src.Clean()
	out := collect(t, src)
	require.Len(t, out, 4)
	for i, b := range out {
		assert.Equal(t, frames[i%2], b.Bytes())
		assert.Equal(t, uint16(i/2), b.Meta().Port)
	}
}

func TestMmapSource(t *testing.T) {
	dir := t.TempDir()
	desc := input.WriteMmapDescriptor([][]byte{[]byte("first"), []byte("second"), []byte("third")})
	path := filepath.Join(dir, "remote.desc")
	require.NoError(t, os.WriteFile(path, desc, 0o644))

	src, err := input.Default().New(input.Config{Mode: "remote_mmap", Files: []string{path}}, deps())
	require.NoError(t, err)
	require.NoError(t, src.Init())
	out := collect(t, src)
	assert.Equal(t, []string{"first", "second", "third"}, payloads(out))
	require.NoError(t, src.Clean())
	// buffers are copies and outlive the mapping
	assert.Equal(t, "second", string(out[1].Bytes()))
}

func TestMmapSourceRejectsBadDescriptors(t *testing.T) {
	dir := t.TempDir()
	good := input.WriteMmapDescriptor([][]byte{[]byte("payload")})

	badRegion := append([]byte(nil), good...)
	badRegion[8] = 0xff // length past the end of the file
	truncated := good[:len(good)-2]
	truncated[8] -= 2 // region still in bounds, record overruns it
	for name, data := range map[string][]byte{
		"short":     good[:10],
		"region":    badRegion,
		"truncated": truncated,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, data, 0o644))
			src, err := input.Default().New(input.Config{Mode: "remote_mmap", Files: []string{path}}, deps())
			require.NoError(t, err)
			assert.ErrorIs(t, src.Init(), api.ErrConfig)
			require.NoError(t, src.Clean())
		})
	}
}

func TestReplayStopsWhenPoolIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "in.txt", "a\nb\nc\n")
	d := deps()
	d.Pool = pool.NewPacketPool(pool.PoolConfig{BufferSize: 256, Capacity: 2, Limit: 2}, -1)
	src, err := input.Default().New(input.Config{Mode: "text", Files: []string{path}}, d)
	require.NoError(t, err)
	require.NoError(t, src.Init())

	buf := make([]api.Buffer, 4)
	n, err := src.Next(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = src.Next(buf[2:])
	require.NoError(t, err)
	assert.Zero(t, n, "nothing until a buffer comes back")

	buf[0].Release()
	n, err = src.Next(buf[2:])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "c", string(buf[2].Bytes()))
}
