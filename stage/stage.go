// File: stage/stage.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stage

import (
	"github.com/momentics/hioload-nf/api"
)

// Stage is the plugin contract implemented by every network function.
type Stage interface {
	// Init allocates private state. Free must be safe even when Init
	// returned an error part-way.
	Init(env *Env) error
	// Exec processes up to the batch size. The returned slice is owned by
	// the stage and valid until the next Exec call.
	Exec(in []api.Buffer) []api.Buffer
	// Free releases private state.
	Free() error
}

// Pending is implemented by stages holding in-flight accelerator work.
type Pending interface {
	Outstanding() int
}

// Constructor creates an uninitialised stage instance.
type Constructor func() Stage

// Outstanding returns s's in-flight operation count, 0 for plain stages.
func Outstanding(s Stage) int {
	if p, ok := s.(Pending); ok {
		return p.Outstanding()
	}
	return 0
}

// Func adapts a function to a stateless Stage.
type Func func(in []api.Buffer) []api.Buffer

func (f Func) Init(*Env) error { return nil }

func (f Func) Exec(in []api.Buffer) []api.Buffer { return f(in) }

func (f Func) Free() error { return nil }
