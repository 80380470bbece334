// File: facade/runtime_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/config"
	"github.com/momentics/hioload-nf/facade"
	"github.com/momentics/hioload-nf/fake"
	"github.com/momentics/hioload-nf/input"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/topology"
)

func testConfig(t *testing.T, cpus int, spec topology.Spec) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.CPUs = make([]int, cpus)
	for i := range cfg.CPUs {
		cfg.CPUs[i] = i
	}
	cfg.Topology = spec
	cfg.Scheduler.Pin = false
	cfg.Scheduler.Idle = "backoff"
	cfg.Stats.Print = false
	cfg.Input.Files = []string{"unused.txt"}
	return cfg
}

func newRuntime(t *testing.T, cfg *config.Config, opts ...facade.Option) *facade.Runtime {
	t.Helper()
	opts = append([]facade.Option{facade.WithLogger(zap.NewNop()), facade.WithStatsOutput(nil)}, opts...)
	rt, err := facade.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown() })
	return rt
}

func registry(set *fake.CountingSet) *stage.Registry {
	reg := stage.NewRegistry()
	reg.MustRegister("pass", set.Constructor(fake.CountingOptions{}))
	reg.MustRegister("drop3", set.Constructor(fake.CountingOptions{DropEvery: 3}))
	reg.MustRegister("broken", set.Constructor(fake.CountingOptions{InitErr: errors.New("no memory")}))
	return reg
}

func payloads(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("pkt-%02d", i))
	}
	return out
}

func TestEchoPipelineDeliversEveryBuffer(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for _, p := range payloads(10) {
		lines = append(lines, string(p))
	}
	path := filepath.Join(dir, "packets.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	cfg := testConfig(t, 3, topology.Spec{{Type: "echo", Instances: 1}, {Type: "echo", Instances: 1}})
	cfg.Input = input.Config{Mode: "text", Files: []string{path}, Iterations: 1}
	rt := newRuntime(t, cfg)

	rep, err := rt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, input.FinishExhausted, rep.Reason)
	assert.Equal(t, uint64(10), rep.Injected)
	assert.Equal(t, uint64(10), rep.Delivered)
	assert.Zero(t, rep.Swept)
	assert.True(t, rep.Conserved(), "%+v", rep)
	assert.Zero(t, rep.Leaked)
	assert.Equal(t, rt.ID(), rep.RunID)

	drv := rt.Stats().Slot(0).Snapshot()
	assert.Equal(t, uint64(60), drv.TxBytes, "bytes injected")
	assert.Equal(t, drv.TxBytes, drv.RxBytes, "bytes delivered unchanged")
	assert.Equal(t, api.StateStopped, rt.State())
}

func TestDropsAreAccounted(t *testing.T) {
	set := &fake.CountingSet{}
	src := &fake.Source{Payloads: payloads(30)}
	cfg := testConfig(t, 4, topology.Spec{{Type: "drop3", Instances: 1}, {Type: "pass", Instances: 2}})
	rt := newRuntime(t, cfg, facade.WithStages(registry(set)), facade.WithSource(src))

	rep, err := rt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, input.FinishExhausted, rep.Reason)
	assert.Equal(t, uint64(30), rep.Injected)
	assert.Equal(t, uint64(10), rep.Dropped)
	assert.Equal(t, uint64(20), rep.Delivered)
	assert.Equal(t, rep.Injected, rep.Accounted())
	assert.True(t, rep.Conserved())

	assert.Zero(t, src.Tracker.Live.Load())
	assert.Zero(t, src.Tracker.DoubleRelease.Load())
	inits, cleans := src.Calls()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, cleans)
	for _, c := range set.Instances() {
		assert.Equal(t, int64(1), c.Frees.Load())
	}
}

func TestStopReleasesEverything(t *testing.T) {
	set := &fake.CountingSet{}
	src := &fake.Source{Payloads: payloads(4), Iterations: 1 << 30}
	cfg := testConfig(t, 4, topology.Spec{{Type: "pass", Instances: 2}, {Type: "pass", Instances: 1}})
	cfg.QueueSize = 16
	rt := newRuntime(t, cfg, facade.WithStages(registry(set)), facade.WithSource(src))

	type result struct {
		rep facade.Report
		err error
	}
	done := make(chan result, 1)
	go func() {
		rep, err := rt.Run(context.Background())
		done <- result{rep, err}
	}()
	require.Eventually(t, func() bool { return rt.State() == api.StateRunning }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	rt.Stop()

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	require.NoError(t, res.err)
	rep := res.rep
	assert.Equal(t, input.FinishStopped, rep.Reason)
	assert.NotZero(t, rep.Injected)
	assert.Equal(t, rep.Injected, rep.Delivered+rep.Swept, "pass-through stages hold nothing")
	assert.Zero(t, src.Tracker.Live.Load(), "every buffer released")
	assert.Zero(t, src.Tracker.DoubleRelease.Load())
	assert.Equal(t, rep, rt.Report())
	require.NoError(t, rt.Shutdown(), "second shutdown is a no-op")
}

func TestCancelledContextEndsRun(t *testing.T) {
	src := &fake.Source{Payloads: payloads(1), Iterations: 1 << 30}
	cfg := testConfig(t, 2, topology.Spec{{Type: "pass", Instances: 1}})
	rt := newRuntime(t, cfg, facade.WithStages(registry(&fake.CountingSet{})), facade.WithSource(src))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	rep, err := rt.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, input.FinishStopped, rep.Reason)
	assert.Zero(t, src.Tracker.Live.Load())
}

func TestRunDuration(t *testing.T) {
	src := &fake.Source{Payloads: payloads(1), Iterations: 1 << 30}
	cfg := testConfig(t, 1, nil)
	cfg.Run.Duration = config.Duration(20 * time.Millisecond)
	rt := newRuntime(t, cfg, facade.WithSource(src))

	rep, err := rt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, input.FinishDuration, rep.Reason)
	assert.Equal(t, rep.Injected, rep.Delivered+rep.Swept)
}

func TestCompressPipelineConserves(t *testing.T) {
	src := &fake.Source{Payloads: [][]byte{[]byte(strings.Repeat("abc", 100))}, Iterations: 20}
	cfg := testConfig(t, 2, topology.Spec{{Type: "compress", Instances: 1}})
	cfg.Accel.Enabled = []string{"compress"}
	rt := newRuntime(t, cfg, facade.WithSource(src))

	rep, err := rt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), rep.Injected)
	assert.Equal(t, rep.Injected, rep.Accounted())
	assert.Zero(t, rep.Abandoned)
	assert.True(t, rep.Conserved())
	assert.Zero(t, src.Tracker.Live.Load())
}

func TestBringUpFailureTearsDown(t *testing.T) {
	set := &fake.CountingSet{}
	src := &fake.Source{Payloads: payloads(1)}
	cfg := testConfig(t, 3, topology.Spec{{Type: "pass", Instances: 1}, {Type: "broken", Instances: 1}})

	_, err := facade.New(cfg, facade.WithLogger(zap.NewNop()), facade.WithStatsOutput(nil),
		facade.WithStages(registry(set)), facade.WithSource(src))
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrResourceExhausted), err.Error())
	assert.Contains(t, err.Error(), "broken")

	inits, cleans := src.Calls()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, cleans)
	for _, c := range set.Instances() {
		assert.Equal(t, int64(1), c.Frees.Load())
	}
}

func TestConfigurationErrors(t *testing.T) {
	cfg := testConfig(t, 2, topology.Spec{{Type: "echo", Instances: 2}})
	_, err := facade.New(cfg, facade.WithLogger(zap.NewNop()))
	assert.True(t, errors.Is(err, api.ErrConfig), "instances must leave the primary core free")

	cfg = testConfig(t, 2, topology.Spec{{Type: "nope", Instances: 1}})
	_, err = facade.New(cfg, facade.WithLogger(zap.NewNop()))
	assert.True(t, errors.Is(err, api.ErrUnknownStage))

	cfg = testConfig(t, 2, nil)
	cfg.Input = input.Config{Mode: "text", Files: []string{filepath.Join(t.TempDir(), "missing.txt")}}
	_, err = facade.New(cfg, facade.WithLogger(zap.NewNop()))
	assert.Error(t, err)
}

func TestShutdownWithoutRun(t *testing.T) {
	src := &fake.Source{Payloads: payloads(1)}
	rt := newRuntime(t, testConfig(t, 2, topology.Spec{{Type: "echo", Instances: 1}}), facade.WithSource(src))
	require.NoError(t, rt.Shutdown())
	require.NoError(t, rt.Shutdown())
	assert.Equal(t, api.StateStopped, rt.State())
	assert.True(t, errors.Is(rt.Start(), api.ErrClosed))
	_, err := rt.Run(context.Background())
	assert.True(t, errors.Is(err, api.ErrClosed))
	_, cleans := src.Calls()
	assert.Equal(t, 1, cleans)
}

func TestReloadRetunesReporter(t *testing.T) {
	rt := newRuntime(t, testConfig(t, 2, topology.Spec{{Type: "echo", Instances: 1}}),
		facade.WithSource(&fake.Source{Payloads: payloads(1)}))
	ctrl := rt.Control()

	require.NoError(t, ctrl.SetConfig(map[string]any{facade.KeyStatsInterval: "250ms"}))
	assert.Equal(t, 250*time.Millisecond, rt.Reporter().Interval())

	err := ctrl.SetConfig(map[string]any{"batch_size": 64})
	assert.True(t, errors.Is(err, api.ErrConfig))
	err = ctrl.SetConfig(map[string]any{facade.KeyStatsInterval: "-1s"})
	assert.True(t, errors.Is(err, api.ErrConfig))
	assert.Equal(t, 250*time.Millisecond, rt.Reporter().Interval())
}

func TestDebugProbes(t *testing.T) {
	rt := newRuntime(t, testConfig(t, 4, topology.Spec{{Type: "echo", Instances: 2}, {Type: "echo", Instances: 1}}),
		facade.WithSource(&fake.Source{Payloads: payloads(1)}))
	ctrl := rt.Control()

	topo, ok := ctrl.Probe("pipeline.topology")
	require.True(t, ok)
	assert.Contains(t, topo, "echo")

	depths, ok := ctrl.Probe("pipeline.queue_depths")
	require.True(t, ok)
	assert.Len(t, depths, len(rt.Topology().Queues()))

	out, ok := ctrl.Probe("pipeline.outstanding")
	require.True(t, ok)
	assert.Equal(t, 0, out)

	_, ok = ctrl.Probe("platform.cpus")
	assert.True(t, ok)
	assert.Equal(t, rt.ID(), ctrl.GetConfig()["run.id"])
}

func TestAdminEndpoint(t *testing.T) {
	cfg := testConfig(t, 2, topology.Spec{{Type: "echo", Instances: 1}})
	cfg.Stats.Listen = "127.0.0.1:0"
	rt := newRuntime(t, cfg, facade.WithSource(&fake.Source{Payloads: payloads(1)}))
	require.NoError(t, rt.Start())
	assert.True(t, errors.Is(rt.Start(), api.ErrAlreadyExists))

	addr := rt.AdminAddr()
	require.NotEmpty(t, addr)
	for _, path := range []string{"/healthz", "/metrics", "/debug/state"} {
		resp, err := http.Get("http://" + addr + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	require.NoError(t, rt.Shutdown())
	assert.Empty(t, rt.AdminAddr())
}
