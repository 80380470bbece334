// File: accel/devices.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Named accelerator device set configured once by the runtime controller
// and shared with every stage through the stage environment.

package accel

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
)

// DevicesConfig configures the software accelerators.
type DevicesConfig struct {
	Enabled  []string       `yaml:"enabled" toml:"enabled" envconfig:"ENABLED"` // device kinds to start
	Workers  int            `yaml:"workers" toml:"workers" envconfig:"WORKERS"`
	Depth    int            `yaml:"depth" toml:"depth" envconfig:"DEPTH"` // engine work queue depth
	Compress CompressConfig `yaml:"compress" toml:"compress" envconfig:"COMPRESS"`
	Regex    RegexConfig    `yaml:"regex" toml:"regex" envconfig:"REGEX"`
}

// Devices is the set of opened accelerator engines.
type Devices struct {
	mu      sync.Mutex
	openers map[string]Opener
	closed  bool
	log     *zap.Logger
}

// NewDevices creates an empty set.
func NewDevices(log *zap.Logger) *Devices {
	if log == nil {
		log = zap.NewNop()
	}
	return &Devices{openers: make(map[string]Opener), log: log}
}

// StartDevices starts every enabled engine. On failure the engines already
// started are closed.
func StartDevices(cfg DevicesConfig, log *zap.Logger) (*Devices, error) {
	d := NewDevices(log)
	for _, kind := range cfg.Enabled {
		var (
			eng *Engine
			err error
		)
		switch kind {
		case "compress":
			eng, err = NewCompressEngine(cfg.Workers, cfg.Depth, cfg.Compress, d.log.Named("compress"))
		case "regex":
			eng, err = NewRegexEngine(cfg.Workers, cfg.Depth, cfg.Regex, d.log.Named("regex"))
		default:
			err = api.ConfigError("accel: unknown device %q", kind)
		}
		if err == nil {
			err = d.Register(kind, eng)
		}
		if err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	return d, nil
}

// Register installs an opener under kind.
func (d *Devices) Register(kind string, o Opener) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return api.ErrClosed
	}
	if _, dup := d.openers[kind]; dup {
		return api.NewError(api.ErrCodeAlreadyExists, "accel: device already registered").WithContext("kind", kind)
	}
	d.openers[kind] = o
	d.log.Info("accelerator device ready", zap.String("kind", kind))
	return nil
}

// Open returns a private queue pair on the kind device.
func (d *Devices) Open(kind string, depth int) (api.AcceleratorDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, api.ErrClosed
	}
	o, ok := d.openers[kind]
	if !ok {
		return nil, api.ConfigError("accel: device %q not enabled", kind).WithContext("kind", kind)
	}
	return o.Open(depth), nil
}

// Kinds lists registered device kinds.
func (d *Devices) Kinds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.openers))
	for k := range d.openers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close stops every device. Safe to call more than once.
func (d *Devices) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	openers := d.openers
	d.mu.Unlock()

	var errs []error
	start := time.Now()
	for kind, o := range openers {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
			d.log.Error("device close failed", zap.String("kind", kind), zap.Error(err))
		}
	}
	d.log.Info("accelerator devices closed", zap.Int("count", len(openers)), zap.Duration("took", time.Since(start)))
	return errors.Join(errs...)
}
