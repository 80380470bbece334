// File: facade/runtime.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime controller. Brings a pipeline up in dependency order, runs one
// worker per stage instance plus the run-mode driver on the primary core,
// and tears everything down so that every injected buffer is accounted for.

package facade

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-nf/accel"
	"github.com/momentics/hioload-nf/adapters"
	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/config"
	"github.com/momentics/hioload-nf/control/httpapi"
	"github.com/momentics/hioload-nf/input"
	"github.com/momentics/hioload-nf/internal/logging"
	"github.com/momentics/hioload-nf/pool"
	"github.com/momentics/hioload-nf/scheduler"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stages"
	"github.com/momentics/hioload-nf/stats"
	"github.com/momentics/hioload-nf/topology"
)

// publishInterval is how often the control plane metrics are refreshed.
const publishInterval = time.Second

// Runtime owns one pipeline: devices, statistics, input, topology, workers
// and the control plane.
type Runtime struct {
	cfg    *config.Config
	spec   topology.Spec
	id     string
	log    *zap.Logger
	stages *stage.Registry
	inputs *input.Registry
	out    io.Writer

	devices   *accel.Devices
	table     *stats.Table
	reporter  *stats.Reporter
	prom      *prometheus.Registry
	pools     *pool.BufferPoolManager
	pool      *pool.PacketPool
	source    input.Source
	srcInited bool
	topo      *topology.Topology
	driver    *input.Driver
	workers   []*scheduler.Worker
	control   *adapters.ControlAdapter
	admin     *httpapi.Server

	stop  atomic.Bool
	state atomic.Int32

	mu         sync.Mutex
	started    bool
	group      errgroup.Group
	bgCancel   context.CancelFunc
	bg         sync.WaitGroup
	driverDone chan struct{}
	result     input.Result

	shutOnce sync.Once
	report   Report
	shutErr  error
}

var _ api.GracefulShutdown = (*Runtime)(nil)

// New validates cfg and brings the pipeline up: devices, statistics,
// input, topology, driver, workers. Nothing runs until Start or Run. On
// failure everything already constructed is torn down.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spec, err := cfg.ResolveTopology()
	if err != nil {
		return nil, err
	}
	r := &Runtime{
		cfg:    cfg.Clone(),
		spec:   spec,
		id:     uuid.NewString(),
		stages: stages.Default(),
		inputs: input.Default(),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		if r.log, err = logging.New(cfg.Log); err != nil {
			return nil, api.ConfigError("facade: logger").Wrap(err)
		}
	}
	r.log = r.log.With(zap.String("run", r.id))
	if err := spec.CheckTypes(r.stages); err != nil {
		return nil, err
	}

	if err := r.bringUp(); err != nil {
		r.log.Error("bring-up failed", zap.Error(err))
		r.teardown()
		return nil, err
	}
	r.state.Store(int32(api.StateInitialized))
	r.log.Info("runtime ready",
		zap.Int("layers", len(spec)),
		zap.Int("instances", spec.Instances()),
		zap.Ints("cpus", r.cfg.CPUs),
		zap.String("input", r.cfg.Input.Mode))
	return r, nil
}

func (r *Runtime) bringUp() error {
	cfg := r.cfg
	var err error

	if r.devices, err = accel.StartDevices(cfg.DevicesConfig(), r.log.Named("accel")); err != nil {
		return err
	}

	r.table = stats.NewTable(r.spec.Instances() + 1)
	r.reporter = stats.NewReporter(r.table, r.out, cfg.Stats.Interval.D(), r.log.Named("stats"))
	r.reporter.SetLabel(0, "driver")
	r.prom = prometheus.NewRegistry()
	if err = r.prom.Register(stats.NewCollector(r.table, prometheus.Labels{"run": r.id})); err != nil {
		return api.NewError(api.ErrCodeInternal, "facade: register collector").Wrap(err)
	}

	r.pools = pool.NewBufferPoolManager(cfg.PacketPoolConfig())
	r.pool = r.pools.GetPool(-1)

	if r.source == nil {
		r.source, err = r.inputs.New(cfg.Input, input.Deps{
			Pool:   r.pool,
			MaxLen: r.pool.BufferSize(),
			Batch:  cfg.BatchSize,
			Log:    r.log.Named("input"),
		})
		if err != nil {
			return err
		}
	}
	if err = r.source.Init(); err != nil {
		return err
	}
	r.srcInited = true

	disc, _ := cfg.QueueDiscipline()
	r.topo, err = topology.Build(r.spec, topology.Options{
		Registry:   r.stages,
		BatchSize:  cfg.BatchSize,
		QueueSize:  cfg.QueueSize,
		Discipline: disc,
		Cores:      cfg.WorkerCores(),
		Limits:     cfg.Limits(),
		Stats:      r.table,
		Pool:       r.pool,
		Shared:     stage.NewShared(r.devices),
		Params:     cfg.Params,
		Logger:     r.log,
	})
	if err != nil {
		return err
	}
	for _, d := range r.topo.Descriptors() {
		r.reporter.SetLabel(d.StatsSlot, d.Name())
	}

	dc := cfg.DriverConfig()
	dc.Dropped = r.table.Drops
	r.driver, err = input.NewDriver(r.source, r.topo.Head, r.topo.Tail, &r.stop, r.table.Slot(0), dc, r.log.Named("driver"))
	if err != nil {
		return err
	}

	idle, _ := cfg.IdlePolicy()
	for _, d := range r.topo.Descriptors() {
		opts := scheduler.Options{
			Idle:     idle,
			MaxSleep: cfg.Scheduler.MaxSleep.D(),
			Logger:   r.log.Named("worker"),
		}
		if cfg.Scheduler.Pin {
			opts.Affinity = adapters.NewAffinityAdapter()
		}
		w, err := scheduler.New(d, r.table.Slot(d.StatsSlot), &r.stop, opts)
		if err != nil {
			return err
		}
		r.workers = append(r.workers, w)
	}

	r.initControl()
	return nil
}

// teardown undoes a partial bring-up. No worker has run yet.
func (r *Runtime) teardown() {
	if r.topo != nil {
		for _, q := range r.topo.Queues() {
			pool.Sweep(q)
		}
		if err := r.topo.Free(); err != nil {
			r.log.Warn("free after failed bring-up", zap.Error(err))
		}
	}
	if r.srcInited {
		if err := r.source.Clean(); err != nil {
			r.log.Warn("input clean failed", zap.Error(err))
		}
	}
	if r.devices != nil {
		if err := r.devices.Close(); err != nil {
			r.log.Warn("device close failed", zap.Error(err))
		}
	}
}

// Start launches the admin endpoint, one worker per stage instance and the
// periodic reporters.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return api.NewError(api.ErrCodeAlreadyExists, "facade: already started")
	}
	if r.State() != api.StateInitialized {
		return api.NewError(api.ErrCodeClosed, "facade: runtime is shut down")
	}
	if addr := r.cfg.Stats.Listen; addr != "" {
		admin, err := httpapi.New(httpapi.Config{
			Addr:     addr,
			Control:  r.control,
			Gatherer: r.prom,
			Health:   r.health,
			Logger:   r.log,
		})
		if err == nil {
			err = admin.Start()
		}
		if err != nil {
			return err
		}
		r.admin = admin
	}

	r.started = true
	for _, w := range r.workers {
		r.group.Go(w.Run)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.bgCancel = cancel
	r.bg.Add(2)
	go func() {
		defer r.bg.Done()
		r.reporter.Run(ctx)
	}()
	go func() {
		defer r.bg.Done()
		r.publishLoop(ctx)
	}()
	r.state.Store(int32(api.StateRunning))
	r.log.Info("workers started", zap.Int("workers", len(r.workers)))
	return nil
}

// Run starts the runtime if needed, drives the input on the calling
// goroutine until the run finishes, then shuts down and returns the
// report. Cancelling ctx ends the run like Stop.
func (r *Runtime) Run(ctx context.Context) (Report, error) {
	if err := r.Start(); err != nil && !errors.Is(err, api.ErrAlreadyExists) {
		return Report{}, err
	}
	r.mu.Lock()
	if r.driverDone != nil {
		r.mu.Unlock()
		return Report{}, api.NewError(api.ErrCodeAlreadyExists, "facade: already running")
	}
	if r.State() != api.StateRunning {
		r.mu.Unlock()
		return Report{}, api.NewError(api.ErrCodeClosed, "facade: runtime is shut down")
	}
	done := make(chan struct{})
	r.driverDone = done
	r.mu.Unlock()

	runErr := r.drive(ctx)
	close(done)
	rep, err := r.shutdown()
	return rep, errors.Join(runErr, err)
}

func (r *Runtime) drive(ctx context.Context) error {
	if r.cfg.Scheduler.Pin {
		aff := adapters.NewAffinityAdapter()
		if err := aff.Pin(r.cfg.PrimaryCore(), -1); err != nil {
			r.log.Warn("driver runs unpinned", zap.Error(err))
		}
		defer aff.Unpin()
	}
	res, err := r.driver.Run(ctx)
	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
	return err
}

// Stop raises the stop flag. Workers and the driver observe it on their
// next iteration; Run then shuts down.
func (r *Runtime) Stop() {
	r.stop.Store(true)
}

// Shutdown stops the runtime and releases everything. When Run is active
// it waits for the driver first. Safe to call more than once.
func (r *Runtime) Shutdown() error {
	_, err := r.shutdown()
	return err
}

func (r *Runtime) shutdown() (Report, error) {
	r.shutOnce.Do(r.doShutdown)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report, r.shutErr
}

func (r *Runtime) doShutdown() {
	r.state.Store(int32(api.StateStopping))
	r.stop.Store(true)
	r.mu.Lock()
	done, started := r.driverDone, r.started
	r.mu.Unlock()
	if done != nil {
		<-done
	}

	var errs []error
	rep := Report{RunID: r.id}

	r.driver.DrainTail()
	if started {
		if err := r.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	drainOpts := r.cfg.DrainOptions()
	for _, d := range r.topo.Descriptors() {
		if d.Outstanding() == 0 {
			continue
		}
		opts := drainOpts
		opts.Name = d.Name()
		res, err := accel.Drain(context.Background(), d, opts, r.log.Named("drain"))
		rep.Recovered += uint64(res.Recovered)
		rep.Abandoned += uint64(res.Abandoned)
		if err != nil {
			rep.DrainTimeouts++
		}
	}

	for _, w := range r.workers {
		residual := w.Residual()
		for _, b := range residual {
			b.Release()
		}
		rep.Swept += uint64(len(residual))
	}
	for _, q := range r.topo.Queues() {
		rep.Swept += uint64(pool.Sweep(q))
	}

	if err := r.topo.Free(); err != nil {
		errs = append(errs, err)
	}
	if r.srcInited {
		if err := r.source.Clean(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.devices.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.bgCancel != nil {
		r.bgCancel()
		r.bg.Wait()
	}

	r.mu.Lock()
	result := r.result
	r.mu.Unlock()
	counts := r.driver.Result()
	rep.Reason = result.Reason
	if rep.Reason == "" {
		rep.Reason = input.FinishStopped
	}
	rep.Elapsed = result.Elapsed
	rep.Injected = counts.Injected
	rep.Delivered = counts.Delivered
	rep.Unsent = counts.Unsent
	rep.Dropped = r.table.Drops()
	rep.Leaked = max(r.pool.InUse()-int64(rep.Abandoned), 0)

	r.publishMetrics()
	if r.cfg.Stats.Print {
		if err := r.reporter.Print("final"); err != nil {
			r.log.Warn("stats print failed", zap.Error(err))
		}
	}
	if r.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := r.admin.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	r.state.Store(int32(api.StateStopped))

	fields := []zap.Field{
		zap.String("reason", rep.Reason),
		zap.Uint64("injected", rep.Injected),
		zap.Uint64("delivered", rep.Delivered),
		zap.Uint64("dropped", rep.Dropped),
		zap.Uint64("swept", rep.Swept),
		zap.Uint64("recovered", rep.Recovered),
		zap.Uint64("abandoned", rep.Abandoned),
	}
	if rep.Conserved() {
		r.log.Info("runtime stopped", fields...)
	} else {
		r.log.Error("buffer accounting mismatch", append(fields, zap.Int64("leaked", rep.Leaked))...)
	}

	r.mu.Lock()
	r.report = rep
	r.shutErr = errors.Join(errs...)
	r.mu.Unlock()
}

func (r *Runtime) health() error {
	if s := r.State(); s != api.StateRunning {
		return api.Errorf(api.ErrCodeClosed, "runtime is %s", s)
	}
	return nil
}

func (r *Runtime) publishLoop(ctx context.Context) {
	t := time.NewTicker(publishInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.publishMetrics()
		}
	}
}

func (r *Runtime) publishMetrics() {
	tot := r.table.Totals()
	res := r.driver.Result()
	r.control.SetMetrics(map[string]any{
		"pipeline.injected":   res.Injected,
		"pipeline.delivered":  res.Delivered,
		"pipeline.unsent":     res.Unsent,
		"pipeline.dropped":    tot.Drops,
		"pipeline.exec_calls": tot.ExecCalls,
		"pipeline.batches":    tot.Batches,
		"pool.in_use":         r.pool.InUse(),
	})
}

// ID returns the run id attached to logs and metrics.
func (r *Runtime) ID() string { return r.id }

// State reports the lifecycle state.
func (r *Runtime) State() api.RunState { return api.RunState(r.state.Load()) }

// Control returns the control plane.
func (r *Runtime) Control() *adapters.ControlAdapter { return r.control }

// Topology returns the built pipeline.
func (r *Runtime) Topology() *topology.Topology { return r.topo }

// Stats returns the statistics table.
func (r *Runtime) Stats() *stats.Table { return r.table }

// Reporter returns the statistics printer.
func (r *Runtime) Reporter() *stats.Reporter { return r.reporter }

// Gatherer exposes the prometheus registry holding the stats collector.
func (r *Runtime) Gatherer() prometheus.Gatherer { return r.prom }

// AdminAddr returns the admin endpoint address, empty when disabled.
func (r *Runtime) AdminAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.admin == nil {
		return ""
	}
	return r.admin.Addr()
}

// Report returns the final report once shutdown has completed.
func (r *Runtime) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}
