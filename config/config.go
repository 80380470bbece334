// File: config/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime configuration: defaults, YAML/TOML files and an NF_ environment
// overlay.

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/momentics/hioload-nf/accel"
	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/input"
	"github.com/momentics/hioload-nf/internal/logging"
	"github.com/momentics/hioload-nf/pool"
	"github.com/momentics/hioload-nf/scheduler"
	"github.com/momentics/hioload-nf/topology"
)

// EnvPrefix prefixes every environment override, e.g. NF_BATCH_SIZE.
const EnvPrefix = "NF"

// Config holds everything the runtime controller needs.
type Config struct {
	Log logging.Config `yaml:"log" toml:"log" envconfig:"LOG"`

	// CPUs lists the usable cores. The first one is the primary core, the
	// rest host one stage instance each.
	CPUs       []int  `yaml:"cpus" toml:"cpus" envconfig:"CPUS"`
	BatchSize  int    `yaml:"batch_size" toml:"batch_size" envconfig:"BATCH_SIZE"`
	QueueSize  int    `yaml:"queue_size" toml:"queue_size" envconfig:"QUEUE_SIZE"`
	Discipline string `yaml:"discipline" toml:"discipline" envconfig:"DISCIPLINE"` // "spsc" or "mpmc"

	Topology     topology.Spec     `yaml:"topology" toml:"topology" ignored:"true"`
	TopologyFile string            `yaml:"topology_file" toml:"topology_file" envconfig:"TOPOLOGY_FILE"`
	MaxLayers    int               `yaml:"max_layers" toml:"max_layers" envconfig:"MAX_LAYERS"`
	MaxInstances int               `yaml:"max_instances" toml:"max_instances" envconfig:"MAX_INSTANCES"`
	Params       map[string]string `yaml:"params" toml:"params" envconfig:"PARAMS"`

	Pool         PoolConfig          `yaml:"pool" toml:"pool" envconfig:"POOL"`
	Accel        accel.DevicesConfig `yaml:"accel" toml:"accel" envconfig:"ACCEL"`
	RegexTimeout Duration            `yaml:"regex_timeout" toml:"regex_timeout" envconfig:"REGEX_TIMEOUT"`
	Input        input.Config        `yaml:"input" toml:"input" envconfig:"INPUT"`
	Run          RunConfig           `yaml:"run" toml:"run" envconfig:"RUN"`
	Scheduler    SchedulerConfig     `yaml:"scheduler" toml:"scheduler" envconfig:"SCHEDULER"`
	Shutdown     ShutdownConfig      `yaml:"shutdown" toml:"shutdown" envconfig:"SHUTDOWN"`
	Stats        StatsConfig         `yaml:"stats" toml:"stats" envconfig:"STATS"`
}

// PoolConfig sizes the packet pool.
type PoolConfig struct {
	BufferSize int  `yaml:"buffer_size" toml:"buffer_size" envconfig:"BUFFER_SIZE"`
	Capacity   int  `yaml:"capacity" toml:"capacity" envconfig:"CAPACITY"`
	Limit      int  `yaml:"limit" toml:"limit" envconfig:"LIMIT"`
	Prealloc   bool `yaml:"prealloc" toml:"prealloc" envconfig:"PREALLOC"`
}

// RunConfig bounds a run on the primary core.
type RunConfig struct {
	Duration       Duration `yaml:"duration" toml:"duration" envconfig:"DURATION"` // 0 runs until the input is exhausted
	QuiesceTimeout Duration `yaml:"quiesce_timeout" toml:"quiesce_timeout" envconfig:"QUIESCE_TIMEOUT"`
	IdleSleep      Duration `yaml:"idle_sleep" toml:"idle_sleep" envconfig:"IDLE_SLEEP"`
}

// SchedulerConfig tunes the per-core workers.
type SchedulerConfig struct {
	Idle     string   `yaml:"idle" toml:"idle" envconfig:"IDLE"` // "poll" or "backoff"
	MaxSleep Duration `yaml:"max_sleep" toml:"max_sleep" envconfig:"MAX_SLEEP"`
	Pin      bool     `yaml:"pin" toml:"pin" envconfig:"PIN"`
}

// ShutdownConfig bounds the accelerator drain.
type ShutdownConfig struct {
	DrainIterations int      `yaml:"drain_iterations" toml:"drain_iterations" envconfig:"DRAIN_ITERATIONS"`
	DrainTimeout    Duration `yaml:"drain_timeout" toml:"drain_timeout" envconfig:"DRAIN_TIMEOUT"`
	DrainInterval   Duration `yaml:"drain_interval" toml:"drain_interval" envconfig:"DRAIN_INTERVAL"`
}

// StatsConfig controls reporting and the admin endpoint.
type StatsConfig struct {
	Interval Duration `yaml:"interval" toml:"interval" envconfig:"INTERVAL"` // 0 disables periodic tables
	Print    bool     `yaml:"print" toml:"print" envconfig:"PRINT"`          // end-of-run table
	Listen   string   `yaml:"listen" toml:"listen" envconfig:"LISTEN"`       // admin HTTP address, empty disables
}

// Default returns a configuration that runs an empty pass-through pipeline
// over a text input on core 0.
func Default() *Config {
	drain := accel.DefaultDrainOptions()
	run := input.DefaultDriverConfig()
	return &Config{
		Log:          logging.DefaultConfig(),
		CPUs:         []int{0},
		BatchSize:    32,
		QueueSize:    topology.DefaultQueueSize,
		Discipline:   api.SPSC.String(),
		MaxLayers:    topology.DefaultLimits.MaxLayers,
		MaxInstances: topology.DefaultLimits.MaxInstances,
		Params:       map[string]string{},
		Pool: PoolConfig{
			BufferSize: pool.DefaultBufferSize,
			Capacity:   8192,
		},
		Accel: accel.DevicesConfig{
			Workers: 1,
			Depth:   256,
			Compress: accel.CompressConfig{
				Algorithm: "deflate",
			},
			Regex: accel.RegexConfig{MaxMatches: 16},
		},
		RegexTimeout: Duration(10 * time.Millisecond),
		Input:        input.DefaultConfig(),
		Run: RunConfig{
			QuiesceTimeout: Duration(run.QuiesceTimeout),
			IdleSleep:      Duration(run.MaxSleep),
		},
		Scheduler: SchedulerConfig{
			Idle:     "poll",
			MaxSleep: Duration(time.Millisecond),
			Pin:      true,
		},
		Shutdown: ShutdownConfig{
			DrainIterations: drain.MaxIterations,
			DrainTimeout:    Duration(drain.Timeout),
			DrainInterval:   Duration(drain.Interval),
		},
		Stats: StatsConfig{Print: true},
	}
}

// Load reads path over the defaults and applies the environment overlay.
// An empty path loads defaults and environment only. The format follows
// the extension: .yaml, .yml or .toml.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, api.ConfigError("config: read %s", path).Wrap(err)
		}
		if err := cfg.decode(data, filepath.Ext(path)); err != nil {
			return nil, api.ConfigError("config: parse %s", path).Wrap(err)
		}
		if cfg.TopologyFile != "" && !filepath.IsAbs(cfg.TopologyFile) {
			cfg.TopologyFile = filepath.Join(filepath.Dir(path), cfg.TopologyFile)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data in the given format ("yaml" or "toml") over the
// defaults. The environment is not consulted.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data, "."+format); err != nil {
		return nil, api.ConfigError("config: parse %s", format).Wrap(err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte, ext string) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, c)
	case ".toml":
		return toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(c)
	default:
		return api.ConfigError("config: unsupported format %q", ext)
	}
}

// ApplyEnv overrides fields whose NF_ variables are set.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return api.ConfigError("config: environment").Wrap(err)
	}
	return nil
}

// Validate checks the configuration before anything is constructed.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return api.ConfigError("config: log level %q", c.Log.Level).Wrap(err)
	}
	if len(c.CPUs) == 0 {
		return api.ConfigError("config: at least one cpu is required")
	}
	seen := make(map[int]struct{}, len(c.CPUs))
	for _, cpu := range c.CPUs {
		if cpu < 0 {
			return api.ConfigError("config: negative cpu %d", cpu)
		}
		if _, dup := seen[cpu]; dup {
			return api.ConfigError("config: cpu %d listed twice", cpu)
		}
		seen[cpu] = struct{}{}
	}
	if c.BatchSize <= 0 || c.QueueSize <= 0 {
		return api.ConfigError("config: batch_size and queue_size must be positive")
	}
	if _, err := c.QueueDiscipline(); err != nil {
		return err
	}
	if _, err := c.IdlePolicy(); err != nil {
		return err
	}
	if c.Pool.BufferSize <= 0 || c.Pool.Capacity <= 0 || c.Pool.Limit < 0 {
		return api.ConfigError("config: pool buffer_size and capacity must be positive")
	}
	if c.RegexTimeout < 0 || c.Run.Duration < 0 || c.Run.QuiesceTimeout < 0 ||
		c.Stats.Interval < 0 || c.Shutdown.DrainTimeout < 0 {
		return api.ConfigError("config: durations must not be negative")
	}
	if c.Shutdown.DrainIterations < 0 {
		return api.ConfigError("config: drain_iterations must not be negative")
	}
	if err := c.Input.Validate(); err != nil {
		return err
	}
	spec, err := c.ResolveTopology()
	if err != nil {
		return err
	}
	if err := spec.Validate(c.Limits()); err != nil {
		return err
	}
	if n := spec.Instances(); n >= len(c.CPUs) {
		return api.ConfigError("config: %d stage instances need more than %d cpus", n, len(c.CPUs)).
			WithContext("instances", n).WithContext("cpus", len(c.CPUs))
	}
	return nil
}

// ResolveTopology returns the inline topology or parses TopologyFile.
// Setting both is an error.
func (c *Config) ResolveTopology() (topology.Spec, error) {
	if c.TopologyFile == "" {
		return c.Topology, nil
	}
	if len(c.Topology) > 0 {
		return nil, api.ConfigError("config: topology and topology_file are mutually exclusive")
	}
	return topology.ParseSpecFile(c.TopologyFile)
}

// Limits returns the topology size bounds.
func (c *Config) Limits() topology.Limits {
	return topology.Limits{MaxLayers: c.MaxLayers, MaxInstances: c.MaxInstances}
}

// QueueDiscipline parses Discipline.
func (c *Config) QueueDiscipline() (api.Discipline, error) {
	switch strings.ToLower(c.Discipline) {
	case "", "spsc":
		return api.SPSC, nil
	case "mpmc":
		return api.MPMC, nil
	default:
		return 0, api.ConfigError("config: unknown queue discipline %q", c.Discipline)
	}
}

// IdlePolicy parses Scheduler.Idle.
func (c *Config) IdlePolicy() (scheduler.IdlePolicy, error) {
	switch strings.ToLower(c.Scheduler.Idle) {
	case "", "poll":
		return scheduler.IdlePoll, nil
	case "backoff":
		return scheduler.IdleBackoff, nil
	default:
		return 0, api.ConfigError("config: unknown idle policy %q", c.Scheduler.Idle)
	}
}

// WorkerCores returns the cores after the primary one.
func (c *Config) WorkerCores() []int {
	if len(c.CPUs) < 2 {
		return nil
	}
	return slices.Clone(c.CPUs[1:])
}

// PrimaryCore returns the first configured cpu.
func (c *Config) PrimaryCore() int {
	if len(c.CPUs) == 0 {
		return -1
	}
	return c.CPUs[0]
}

// PacketPoolConfig converts Pool to the pool package form.
func (c *Config) PacketPoolConfig() pool.PoolConfig {
	return pool.PoolConfig{
		BufferSize: c.Pool.BufferSize,
		Capacity:   c.Pool.Capacity,
		Limit:      c.Pool.Limit,
		Prealloc:   c.Pool.Prealloc,
	}
}

// DevicesConfig returns the accelerator settings with the regex timeout
// applied.
func (c *Config) DevicesConfig() accel.DevicesConfig {
	d := c.Accel
	d.Regex.MatchTimeout = c.RegexTimeout.D()
	return d
}

// DrainOptions returns the shutdown drain bounds.
func (c *Config) DrainOptions() accel.DrainOptions {
	return accel.DrainOptions{
		MaxIterations: c.Shutdown.DrainIterations,
		Timeout:       c.Shutdown.DrainTimeout.D(),
		Interval:      c.Shutdown.DrainInterval.D(),
	}
}

// DriverConfig returns the run-mode driver settings. Dropped is left for
// the controller to wire.
func (c *Config) DriverConfig() input.DriverConfig {
	d := input.DefaultDriverConfig()
	d.Batch = c.BatchSize
	d.Duration = c.Run.Duration.D()
	if c.Run.QuiesceTimeout > 0 {
		d.QuiesceTimeout = c.Run.QuiesceTimeout.D()
	}
	if c.Run.IdleSleep > 0 {
		d.MaxSleep = c.Run.IdleSleep.D()
	}
	return d
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.CPUs = slices.Clone(c.CPUs)
	out.Topology = slices.Clone(c.Topology)
	out.Params = make(map[string]string, len(c.Params))
	for k, v := range c.Params {
		out.Params[k] = v
	}
	out.Log.OutputPaths = slices.Clone(c.Log.OutputPaths)
	out.Accel.Enabled = slices.Clone(c.Accel.Enabled)
	out.Accel.Regex.Rules = slices.Clone(c.Accel.Regex.Rules)
	out.Input.Files = slices.Clone(c.Input.Files)
	out.Input.Interfaces = slices.Clone(c.Input.Interfaces)
	return &out
}

// Map flattens the configuration for the control plane snapshot.
func (c *Config) Map() map[string]any {
	spec, _ := c.ResolveTopology()
	return map[string]any{
		"log.level":           c.Log.Level,
		"cpus":                slices.Clone(c.CPUs),
		"batch_size":          c.BatchSize,
		"queue_size":          c.QueueSize,
		"discipline":          c.Discipline,
		"topology":            spec.String(),
		"pool.buffer_size":    c.Pool.BufferSize,
		"pool.capacity":       c.Pool.Capacity,
		"accel.enabled":       slices.Clone(c.Accel.Enabled),
		"input.mode":          c.Input.Mode,
		"input.files":         slices.Clone(c.Input.Files),
		"run.duration":        c.Run.Duration.String(),
		"scheduler.idle":      c.Scheduler.Idle,
		"stats.interval":      c.Stats.Interval.String(),
		"stats.listen":        c.Stats.Listen,
		"shutdown.drain_time": c.Shutdown.DrainTimeout.String(),
	}
}
