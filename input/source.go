// File: input/source.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/pool"
)

// Source produces packet buffers for the head queue.
type Source interface {
	// Init loads or opens the input. Clean must be safe after a failed Init.
	Init() error
	// Next fills dst with up to len(dst) buffers, each holding one
	// reference owned by the caller. Zero with a nil error means nothing is
	// ready yet; io.EOF means the source is exhausted.
	Next(dst []api.Buffer) (int, error)
	// Clean releases everything Init acquired.
	Clean() error
}

// Config selects and parameterises the input source.
type Config struct {
	Mode        string   `yaml:"mode" toml:"mode" envconfig:"MODE"`
	Files       []string `yaml:"files" toml:"files" envconfig:"FILES"` // paths or doublestar patterns
	Iterations  int      `yaml:"iterations" toml:"iterations" envconfig:"ITERATIONS"`
	Rate        int      `yaml:"rate" toml:"rate" envconfig:"RATE"` // packets per second, 0 is unpaced
	MaxPackets  int      `yaml:"max_packets" toml:"max_packets" envconfig:"MAX_PACKETS"`
	Interfaces  []string `yaml:"interfaces" toml:"interfaces" envconfig:"INTERFACES"`
	EtherType   uint16   `yaml:"ether_type" toml:"ether_type" envconfig:"ETHER_TYPE"` // live filter, 0 accepts all
	Promiscuous bool     `yaml:"promiscuous" toml:"promiscuous" envconfig:"PROMISCUOUS"`
}

// DefaultConfig returns a text-mode configuration replayed once.
func DefaultConfig() Config {
	return Config{Mode: "text", Iterations: 1}
}

// Validate checks the fields the selected mode needs.
func (c Config) Validate() error {
	if c.Mode == "" {
		return api.ConfigError("input: mode is required")
	}
	if c.Iterations < 0 || c.Rate < 0 || c.MaxPackets < 0 {
		return api.ConfigError("input: iterations, rate and max_packets must not be negative").WithContext("mode", c.Mode)
	}
	switch c.Mode {
	case "live":
		if len(c.Interfaces) == 0 {
			return api.ConfigError("input: live mode needs at least one interface")
		}
	case "text", "pcap", "remote_mmap":
		if len(c.Files) == 0 {
			return api.ConfigError("input: %s mode needs at least one file", c.Mode).WithContext("mode", c.Mode)
		}
	}
	return nil
}

// Deps are the runtime collaborators handed to a source constructor.
type Deps struct {
	Pool   api.BufferPool
	MaxLen int // largest packet the pool can hold
	Batch  int
	Log    *zap.Logger
	now    func() time.Time
}

func (d Deps) log() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

func (d Deps) clock() func() time.Time {
	if d.now == nil {
		return time.Now
	}
	return d.now
}

// Constructor builds an uninitialised source.
type Constructor func(cfg Config, deps Deps) (Source, error)

// Registry maps mode names to source constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Default returns a registry holding the built-in modes.
func Default() *Registry {
	r := NewRegistry()
	_ = r.Register("text", NewTextSource)
	_ = r.Register("pcap", NewPcapSource)
	_ = r.Register("remote_mmap", NewMmapSource)
	_ = r.Register("live", NewLiveSource)
	return r
}

// Register installs ctor under mode.
func (r *Registry) Register(mode string, ctor Constructor) error {
	if mode == "" || ctor == nil {
		return api.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ctors[mode]; dup {
		return api.NewError(api.ErrCodeAlreadyExists, "input mode already registered").WithContext("mode", mode)
	}
	r.ctors[mode] = ctor
	return nil
}

// New validates cfg and constructs the source for its mode.
func (r *Registry) New(cfg Config, deps Deps) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	ctor, ok := r.ctors[cfg.Mode]
	r.mu.RUnlock()
	if !ok {
		return nil, api.ConfigError("input: unknown mode %q", cfg.Mode).WithContext("mode", cfg.Mode)
	}
	if deps.Pool == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "input: no buffer pool")
	}
	if deps.Batch <= 0 {
		deps.Batch = 32
	}
	if deps.MaxLen <= 0 {
		deps.MaxLen = pool.DefaultBufferSize
	}
	return ctor(cfg, deps)
}

// Modes lists registered mode names.
func (r *Registry) Modes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ctors))
	for m := range r.ctors {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
