// File: stages/stages_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stages

import (
	"bytes"
	"encoding/hex"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nf/accel"
	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/fake"
	"github.com/momentics/hioload-nf/internal/pkt"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

func newEnv(typ string, params map[string]string) *stage.Env {
	return &stage.Env{
		Type:      typ,
		BatchSize: 32,
		Slot:      stats.NewTable(1).Slot(0),
		Shared:    stage.NewShared(nil),
		Params:    params,
		Registry:  Default(),
	}
}

func tuple(sp, dp uint16, proto uint8) pkt.FiveTuple {
	return pkt.FiveTuple{
		Src:     netip.MustParseAddr("192.168.1.10"),
		Dst:     netip.MustParseAddr("10.0.0.1"),
		SrcPort: sp,
		DstPort: dp,
		Proto:   proto,
	}
}

func udpFrame(t *testing.T, tr *fake.Tracker, sp, dp uint16, payload string) *fake.Buffer {
	t.Helper()
	frame, err := pkt.BuildUDP(tuple(sp, dp, 17), []byte(payload))
	require.NoError(t, err)
	return tr.NewBuffer(frame)
}

func tcpFrame(t *testing.T, tr *fake.Tracker, sp, dp uint16, payload string) *fake.Buffer {
	t.Helper()
	frame, err := pkt.BuildTCP(tuple(sp, dp, 6), []byte(payload))
	require.NoError(t, err)
	return tr.NewBuffer(frame)
}

func bufs(bs ...*fake.Buffer) []api.Buffer {
	out := make([]api.Buffer, len(bs))
	for i, b := range bs {
		out[i] = b
	}
	return out
}

// drain runs s until nothing is outstanding and returns everything it
// emitted along the way.
func drain(t *testing.T, s stage.Stage, in []api.Buffer) []api.Buffer {
	t.Helper()
	out := append([]api.Buffer(nil), s.Exec(in)...)
	deadline := time.Now().Add(5 * time.Second)
	for stage.Outstanding(s) > 0 {
		require.True(t, time.Now().Before(deadline), "stage never drained")
		out = append(out, s.Exec(nil)...)
		time.Sleep(100 * time.Microsecond)
	}
	return out
}

func TestDefaultRegistryHasEveryStage(t *testing.T) {
	r := Default()
	for _, typ := range []string{
		"echo", "ddos", "cms", "hll", "acl", "l3_lb", "http_parser",
		"api_gw", "aes", "sha", "regex", "compress", "reorder",
	} {
		assert.True(t, r.Has(typ), typ)
	}
	for name, chain := range Apps() {
		assert.True(t, r.Has(name), name)
		assert.NotEmpty(t, chain)
	}
	assert.Equal(t, []string{"hll", "acl"}, Apps()["app_fw"])
}

func TestEchoForwardsInput(t *testing.T) {
	var tr fake.Tracker
	e := &Echo{}
	require.NoError(t, e.Init(newEnv("echo", nil)))
	in := bufs(tr.NewBuffer([]byte("a")), tr.NewBuffer([]byte("b")))
	assert.Equal(t, in, e.Exec(in))
	assert.Empty(t, e.Exec(nil))
	require.NoError(t, e.Free())
}

func TestDDoSAlertsOnUniformTraffic(t *testing.T) {
	var tr fake.Tracker
	env := newEnv("ddos", map[string]string{"window": "4", "threshold": "0", "drop": "true"})
	d := &DDoS{}
	require.NoError(t, d.Init(env))

	var in []api.Buffer
	for i := 0; i < 6; i++ {
		in = append(in, tr.NewBuffer(bytes.Repeat([]byte{0xff}, 8)))
	}
	out := d.Exec(in)
	assert.Len(t, out, 3, "packets before the window fills pass")
	assert.Equal(t, int64(3), tr.Freed.Load())

	snap := env.Slot.Snapshot()
	assert.Equal(t, uint64(3), snap.Drops)
	assert.Equal(t, uint64(1), snap.Custom["ddos.alerts"])
	assert.Equal(t, uint64(3), snap.Custom["ddos.attack_packets"])
	assert.Equal(t, int64(16), snap.Gauges["ddos.entropy_gap"])
}

func TestDDoSQuietBelowThreshold(t *testing.T) {
	var tr fake.Tracker
	env := newEnv("ddos", map[string]string{"window": "4"})
	d := &DDoS{}
	require.NoError(t, d.Init(env))
	var in []api.Buffer
	for i := 0; i < 8; i++ {
		in = append(in, tr.NewBuffer(bytes.Repeat([]byte{0xff}, 8)))
	}
	assert.Len(t, d.Exec(in), 8)
	assert.Zero(t, env.Slot.Counter("ddos.alerts").Load())
}

func TestDDoSRejectsBadWindow(t *testing.T) {
	err := (&DDoS{}).Init(newEnv("ddos", map[string]string{"window": "0"}))
	assert.ErrorIs(t, err, api.ErrConfig)
}

func TestCMSCountsFlows(t *testing.T) {
	var tr fake.Tracker
	env := newEnv("cms", map[string]string{"heavy_threshold": "3"})
	c := &CMS{}
	require.NoError(t, c.Init(env))

	in := bufs(
		udpFrame(t, &tr, 1000, 53, "q"),
		udpFrame(t, &tr, 1000, 53, "q"),
		udpFrame(t, &tr, 1001, 53, "q"),
		udpFrame(t, &tr, 1000, 53, "q"),
	)
	assert.Len(t, c.Exec(in), 4)
	assert.Equal(t, uint64(3), c.Estimate(tuple(1000, 53, 17).Hash(0)))
	assert.Equal(t, uint64(2), env.Slot.Counter("cms.new_flows").Load())
	assert.Equal(t, uint64(1), env.Slot.Counter("cms.heavy_hitters").Load())

	c.Exec(bufs(tr.NewBuffer([]byte("not a frame"))))
	assert.Equal(t, uint64(1), env.Slot.Counter("cms.unparsed").Load())
}

func TestHLLEstimatesDistinctFlows(t *testing.T) {
	var tr fake.Tracker
	env := newEnv("hll", nil)
	h := &HLL{}
	require.NoError(t, h.Init(env))

	for i := 0; i < 1000; i++ {
		b := udpFrame(t, &tr, uint16(1024+i), 80, "x")
		// every flow twice
		h.Exec(bufs(b, b))
	}
	assert.InDelta(t, 1000, float64(h.Count()), 30)
	assert.Equal(t, int64(h.Count()), env.Slot.Gauge("hll.distinct_flows").Load())

	assert.ErrorIs(t, (&HLL{}).Init(newEnv("hll", map[string]string{"precision": "3"})), api.ErrConfig)
}

const aclRules = `# sample rules
@10.0.0.0/8 0.0.0.0/0 0 : 65535 80 : 80 0x11/0xFF
@192.168.0.0/16 10.0.0.1/32 0 : 65535 22 : 22 6/0xFF
`

func TestParseACLRules(t *testing.T) {
	rules, err := ParseACLRules(strings.NewReader(aclRules))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, 2, rules[0].Line)
	assert.Equal(t, uint16(80), rules[0].DstLo)
	assert.Equal(t, uint8(17), rules[0].Proto)

	src := netip.MustParseAddr("192.168.1.10")
	dst := netip.MustParseAddr("10.0.0.1")
	assert.Equal(t, 1, rules.Classify(src, dst, 5000, 22, 6))
	assert.Equal(t, -1, rules.Classify(src, dst, 5000, 22, 17))
	assert.Equal(t, 0, rules.Classify(dst, src, 5000, 80, 17))

	for _, bad := range []string{
		"10.0.0.0/8 0.0.0.0/0 0 : 65535 80 : 80 6/0xFF",
		"@10.0.0.0/8 0.0.0.0/0 0 : 65535 80 : 80",
		"@10.0.0.0/8 0.0.0.0/0 0 - 65535 80 : 80 6/0xFF",
		"@10.0.0.0/8 0.0.0.0/0 0 : 70000 80 : 80 6/0xFF",
		"@10.0.0.0/8 0.0.0.0/0 0 : 65535 80 : 80 6",
	} {
		_, err := ParseACLRules(strings.NewReader("# c\n" + bad))
		require.Error(t, err, bad)
		assert.ErrorIs(t, err, api.ErrConfig)
		assert.Equal(t, 2, err.(*api.Error).Context["line"], bad)
	}
}

func writeRules(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "acl.rules")
	require.NoError(t, os.WriteFile(path, []byte(aclRules), 0o644))
	return path
}

func TestACLDropsMatched(t *testing.T) {
	var tr fake.Tracker
	env := newEnv("acl", map[string]string{"rules": writeRules(t), "drop_matched": "true"})
	a := &ACL{}
	require.NoError(t, a.Init(env))

	ssh := tcpFrame(t, &tr, 40000, 22, "")
	web := udpFrame(t, &tr, 40000, 8080, "")
	out := a.Exec(bufs(ssh, web))
	require.Len(t, out, 1)
	assert.Same(t, web, out[0])
	assert.Equal(t, int64(1), tr.Freed.Load())
	assert.Equal(t, uint64(1), env.Slot.Counter("acl.matched").Load())
	assert.Equal(t, uint64(1), env.Slot.Counter("acl.passed").Load())
	assert.Equal(t, uint64(1), env.Slot.Snapshot().Drops)
}

func TestACLSharesRuleTable(t *testing.T) {
	path := writeRules(t)
	shared := stage.NewShared(nil)
	var first, second ACL
	e1 := newEnv("acl", map[string]string{"rules": path})
	e1.Shared = shared
	e2 := newEnv("acl", map[string]string{"rules": path})
	e2.Shared = shared
	require.NoError(t, first.Init(e1))
	require.NoError(t, second.Init(e2))
	assert.Same(t, &first.rules[0], &second.rules[0])
}

func TestACLRequiresRules(t *testing.T) {
	assert.ErrorIs(t, (&ACL{}).Init(newEnv("acl", nil)), api.ErrConfig)
	err := (&ACL{}).Init(newEnv("acl", map[string]string{"rules": filepath.Join(t.TempDir(), "missing")}))
	assert.ErrorIs(t, err, api.ErrConfig)
}

func TestL3LBRewritesDestination(t *testing.T) {
	var tr fake.Tracker
	env := newEnv("l3_lb", map[string]string{"backends": "10.0.1.1, 10.0.1.2"})
	l := &L3LB{}
	require.NoError(t, l.Init(env))

	a1 := udpFrame(t, &tr, 1000, 53, "hello")
	b1 := tcpFrame(t, &tr, 2000, 80, "world")
	a2 := udpFrame(t, &tr, 1000, 53, "again")
	out := l.Exec(bufs(a1, b1, a2))
	require.Len(t, out, 3)

	expect := func(orig pkt.FiveTuple, backend string, payload string, tcp bool) []byte {
		orig.Dst = netip.MustParseAddr(backend)
		var frame []byte
		var err error
		if tcp {
			frame, err = pkt.BuildTCP(orig, []byte(payload))
		} else {
			frame, err = pkt.BuildUDP(orig, []byte(payload))
		}
		require.NoError(t, err)
		return frame
	}
	assert.Equal(t, expect(tuple(1000, 53, 17), "10.0.1.1", "hello", false), a1.Bytes())
	assert.Equal(t, expect(tuple(2000, 80, 6), "10.0.1.2", "world", true), b1.Bytes())
	assert.Equal(t, expect(tuple(1000, 53, 17), "10.0.1.1", "again", false), a2.Bytes())

	ip := a1.Bytes()[14:34]
	assert.Equal(t, pkt.IPv4Checksum(ip), uint16(ip[10])<<8|uint16(ip[11]))
	assert.Equal(t, uint64(3), env.Slot.Counter("l3_lb.rewritten").Load())
	assert.Equal(t, int64(2), env.Slot.Gauge("l3_lb.flows").Load())
}

func TestL3LBTableFullAndExpiry(t *testing.T) {
	var tr fake.Tracker
	now := time.Unix(1000, 0)
	env := newEnv("l3_lb", map[string]string{"flow_table_size": "1", "expiry_seconds": "5"})
	l := &L3LB{now: func() time.Time { return now }}
	require.NoError(t, l.Init(env))

	l.Exec(bufs(udpFrame(t, &tr, 1, 53, "a"), udpFrame(t, &tr, 2, 53, "b")))
	assert.Equal(t, uint64(1), env.Slot.Counter("l3_lb.table_full").Load())

	now = now.Add(6 * time.Second)
	l.Exec(bufs(udpFrame(t, &tr, 2, 53, "b")))
	assert.Equal(t, uint64(1), env.Slot.Counter("l3_lb.expired").Load())
	assert.Equal(t, uint64(2), env.Slot.Counter("l3_lb.rewritten").Load())

	l.Exec(bufs(tr.NewBuffer([]byte("raw"))))
	assert.Equal(t, uint64(1), env.Slot.Counter("l3_lb.skipped").Load())
}

func TestHTTPParserClassifies(t *testing.T) {
	var tr fake.Tracker
	env := newEnv("http_parser", nil)
	h := &HTTPParser{}
	require.NoError(t, h.Init(env))

	get := tcpFrame(t, &tr, 5000, 80, "GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n")
	post := tcpFrame(t, &tr, 5001, 80, "POST /api HTTP/1.1\r\nHost: example.com\r\nContent-Length: 13\r\n\r\n{\"id\": 12345}")
	junk := tcpFrame(t, &tr, 5002, 80, "\x00\x01garbage")
	empty := tcpFrame(t, &tr, 5003, 80, "")
	out := h.Exec(bufs(get, post, junk, empty))
	assert.Len(t, out, 4)

	snap := env.Slot.Snapshot()
	assert.Equal(t, uint64(2), snap.Custom["http_parser.requests"])
	assert.Equal(t, uint64(1), snap.Custom["http_parser.errors"])
	assert.Equal(t, uint64(1), snap.Custom["http_parser.empty"])
	assert.Equal(t, uint64(1), snap.Custom["http_parser.body.application/json"])
}

func TestAPIGatewayLimits(t *testing.T) {
	var tr fake.Tracker
	now := time.Unix(2000, 0)
	env := newEnv("api_gw", map[string]string{"limiters": "1", "rate": "1", "burst": "2", "drop_limited": "true"})
	g := &APIGateway{now: func() time.Time { return now }}
	require.NoError(t, g.Init(env))

	in := bufs(
		tr.NewBuffer([]byte("req-1")),
		tr.NewBuffer([]byte("req-2")),
		tr.NewBuffer([]byte("req-3")),
	)
	assert.Len(t, g.Exec(in), 2)
	assert.Equal(t, uint64(2), env.Slot.Counter("api_gw.allowed").Load())
	assert.Equal(t, uint64(1), env.Slot.Counter("api_gw.limited").Load())
	assert.Equal(t, int64(1), tr.Freed.Load())

	now = now.Add(time.Second)
	assert.Len(t, g.Exec(bufs(tr.NewBuffer([]byte("req-4")))), 1)
}

func TestAESMatchesKnownAnswer(t *testing.T) {
	a := &AES{}
	require.NoError(t, a.Init(newEnv("aes", nil)))
	// NIST SP 800-38A F.2.1, first block
	plain, _ := hex.DecodeString("6bc1bee22e409f96e93d7e117393172a")
	assert.Equal(t, "7649abac8119b246cee98e9b12e9197d", hex.EncodeToString(a.encrypt(plain)))
	assert.Len(t, a.encrypt([]byte("short")), 16)

	var tr fake.Tracker
	b := tr.NewBuffer(plain)
	a.Exec(bufs(b))
	assert.Equal(t, plain, b.Bytes(), "packet is forwarded unchanged")

	assert.ErrorIs(t, (&AES{}).Init(newEnv("aes", map[string]string{"iv": "00"})), api.ErrConfig)
	assert.ErrorIs(t, (&AES{}).Init(newEnv("aes", map[string]string{"key": "zz"})), api.ErrConfig)
}

func TestSHAAlgorithms(t *testing.T) {
	for alg, want := range map[string]string{
		"sha1":    "a9993e364706816aba3e25717850c26c9cd0d89d",
		"sha256":  "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		"blake2b": "bddd813c634239723171ef3fee98579b94964e3bb1cb3e427262c8c068d52319",
	} {
		t.Run(alg, func(t *testing.T) {
			env := newEnv("sha", map[string]string{"algorithm": alg})
			s := &SHA{}
			require.NoError(t, s.Init(env))
			assert.Equal(t, want, hex.EncodeToString(s.digest([]byte("abc"))))
			assert.Equal(t, uint64(1), env.Slot.Counter("sha.digests").Load())
		})
	}
	assert.ErrorIs(t, (&SHA{}).Init(newEnv("sha", map[string]string{"algorithm": "md4"})), api.ErrConfig)
}

func TestRegexOffload(t *testing.T) {
	devs, err := accel.StartDevices(accel.DevicesConfig{
		Enabled: []string{"regex"},
		Workers: 2,
		Depth:   64,
		Regex:   accel.RegexConfig{Rules: []string{"attack"}},
	}, nil)
	require.NoError(t, err)
	defer devs.Close()

	var tr fake.Tracker
	env := newEnv("regex", nil)
	env.Shared = stage.NewShared(devs)
	r := &Regex{}
	require.NoError(t, r.Init(env))

	in := bufs(
		udpFrame(t, &tr, 1, 9, "attack at dawn"),
		udpFrame(t, &tr, 2, 9, "hello"),
		udpFrame(t, &tr, 3, 9, "attack, attack"),
	)
	out := drain(t, r, in)
	assert.ElementsMatch(t, in, out)
	assert.Equal(t, uint64(3), env.Slot.Counter("regex.matches").Load())
	assert.Equal(t, uint64(2), env.Slot.Counter("regex.matched_packets").Load())
	for _, b := range out {
		assert.Equal(t, int32(1), b.RefCount())
	}
	require.NoError(t, r.Free())
	require.NoError(t, r.Free())
}

func TestCompressOffloadRewrites(t *testing.T) {
	devs, err := accel.StartDevices(accel.DevicesConfig{
		Enabled:  []string{"compress"},
		Workers:  1,
		Depth:    64,
		Compress: accel.CompressConfig{Algorithm: "deflate"},
	}, nil)
	require.NoError(t, err)
	defer devs.Close()

	var tr fake.Tracker
	env := newEnv("compress", map[string]string{"rewrite": "true"})
	env.Shared = stage.NewShared(devs)
	c := &Compress{}
	require.NoError(t, c.Init(env))

	payload := strings.Repeat("compressible ", 64)
	b := udpFrame(t, &tr, 1, 9, payload)
	before := b.Len()
	out := drain(t, c, bufs(b))
	require.Len(t, out, 1)
	assert.Less(t, b.Len(), before)
	assert.Equal(t, uint64(len(payload)), env.Slot.Counter("compress.bytes_in").Load())
	assert.Equal(t, uint64(b.Len()-42), env.Slot.Counter("compress.bytes_out").Load())
	require.NoError(t, c.Free())
}

func TestOffloadWithoutDeviceFails(t *testing.T) {
	assert.ErrorIs(t, (&Regex{}).Init(newEnv("regex", nil)), api.ErrConfig)
	err := (&Compress{}).Init(newEnv("compress", map[string]string{"on_error": "ignore"}))
	assert.ErrorIs(t, err, api.ErrConfig)
}

func seqBuf(tr *fake.Tracker, seq uint64) *fake.Buffer {
	b := tr.NewBuffer([]byte{byte(seq)})
	b.Meta().Seq = seq
	return b
}

func seqs(out []api.Buffer) []uint64 {
	s := make([]uint64, len(out))
	for i, b := range out {
		s[i] = b.Meta().Seq
	}
	return s
}

func TestReorderRestoresOrder(t *testing.T) {
	var tr fake.Tracker
	now := time.Unix(0, 0)
	r := &Reorder{now: func() time.Time { return now }}
	require.NoError(t, r.Init(newEnv("reorder", map[string]string{"window": "8"})))

	assert.Equal(t, []uint64{0}, seqs(r.Exec(bufs(seqBuf(&tr, 2), seqBuf(&tr, 0)))))
	assert.Equal(t, 1, r.Outstanding())
	assert.Equal(t, []uint64{1, 2, 3}, seqs(r.Exec(bufs(seqBuf(&tr, 3), seqBuf(&tr, 1)))))
	assert.Zero(t, r.Outstanding())

	// late arrivals pass straight through
	assert.Equal(t, []uint64{1}, seqs(r.Exec(bufs(seqBuf(&tr, 1)))))
}

func TestReorderSkipsGapAfterTimeout(t *testing.T) {
	var tr fake.Tracker
	now := time.Unix(0, 0)
	env := newEnv("reorder", map[string]string{"window": "8", "timeout_us": "100"})
	r := &Reorder{now: func() time.Time { return now }}
	require.NoError(t, r.Init(env))

	assert.Empty(t, r.Exec(bufs(seqBuf(&tr, 2))))
	assert.Empty(t, r.Exec(nil))
	now = now.Add(200 * time.Microsecond)
	assert.Equal(t, []uint64{2}, seqs(r.Exec(nil)))
	assert.Equal(t, uint64(2), env.Slot.Counter("reorder.skipped").Load())
	assert.Zero(t, r.Outstanding())
}

func TestReorderJumpBeyondWindowFlushes(t *testing.T) {
	var tr fake.Tracker
	r := &Reorder{}
	require.NoError(t, r.Init(newEnv("reorder", map[string]string{"window": "4", "timeout_us": "10000000"})))
	assert.Empty(t, r.Exec(bufs(seqBuf(&tr, 1))))
	// 10 moves the window to [7,10]; 1 is flushed and 10 waits for 7..9
	assert.Equal(t, []uint64{1}, seqs(r.Exec(bufs(seqBuf(&tr, 10)))))
	assert.Equal(t, 1, r.Outstanding())
	assert.Equal(t, []uint64{7, 8, 9, 10}, seqs(r.Exec(bufs(seqBuf(&tr, 9), seqBuf(&tr, 8), seqBuf(&tr, 7)))))
}

func TestReorderFreeReleasesHeld(t *testing.T) {
	var tr fake.Tracker
	r := &Reorder{}
	require.NoError(t, r.Init(newEnv("reorder", nil)))
	r.Exec(bufs(seqBuf(&tr, 5), seqBuf(&tr, 6)))
	require.NoError(t, r.Free())
	assert.Equal(t, int64(2), tr.Freed.Load())
	assert.Zero(t, r.Outstanding())
}

func TestCompositeApps(t *testing.T) {
	var tr fake.Tracker
	reg := Default()

	fw, err := reg.New("app_fw")
	require.NoError(t, err)
	env := newEnv("app_fw", map[string]string{"acl.rules": writeRules(t), "acl.drop_matched": "true"})
	require.NoError(t, fw.Init(env))
	out := fw.Exec(bufs(tcpFrame(t, &tr, 40000, 22, ""), udpFrame(t, &tr, 40000, 53, "")))
	assert.Len(t, out, 1)
	assert.Equal(t, int64(2), env.Slot.Gauge("hll.distinct_flows").Load())
	require.NoError(t, fw.Free())

	ids, err := reg.New("app_ids")
	require.NoError(t, err)
	err = ids.Init(newEnv("app_ids", nil))
	assert.ErrorIs(t, err, api.ErrConfig, "regex needs a device")
	require.NoError(t, ids.Free())
}
