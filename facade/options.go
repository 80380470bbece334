// File: facade/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"io"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/input"
	"github.com/momentics/hioload-nf/stage"
)

// Option customises a Runtime before bring-up.
type Option func(*Runtime)

// WithLogger replaces the logger built from the logging config.
func WithLogger(log *zap.Logger) Option {
	return func(r *Runtime) { r.log = log }
}

// WithStages replaces the built-in stage registry.
func WithStages(reg *stage.Registry) Option {
	return func(r *Runtime) { r.stages = reg }
}

// WithInputs replaces the built-in input mode registry.
func WithInputs(reg *input.Registry) Option {
	return func(r *Runtime) { r.inputs = reg }
}

// WithSource uses src instead of building one from the input config.
// The runtime still calls Init and Clean on it.
func WithSource(src input.Source) Option {
	return func(r *Runtime) { r.source = src }
}

// WithStatsOutput sends the statistics tables to w. Nil silences them.
func WithStatsOutput(w io.Writer) Option {
	return func(r *Runtime) { r.out = w }
}
