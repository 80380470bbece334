// File: stage/composite.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Composite stages assemble an application from reusable stages that call
// each other directly instead of through queues.

package stage

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-nf/api"
)

// Composite owns an ordered chain of sub-stages.
type Composite struct {
	types []string
	subs  []Stage
}

var (
	_ Stage   = (*Composite)(nil)
	_ Pending = (*Composite)(nil)
)

// NewComposite returns a constructor for a composite chaining types in order.
func NewComposite(types ...string) Constructor {
	types = append([]string(nil), types...)
	return func() Stage { return &Composite{types: types} }
}

// Init creates and initialises every sub-stage with its own state and no
// queues. A sub-stage whose Init failed is kept so Free can release what
// it allocated.
func (c *Composite) Init(env *Env) error {
	if env == nil || env.Registry == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "composite: no registry in environment")
	}
	if len(c.types) == 0 {
		return api.ConfigError("composite %s: no sub-stages", env.Type).WithContext("stage", env.Type)
	}
	for _, typ := range c.types {
		s, err := env.Registry.New(typ)
		if err != nil {
			return fmt.Errorf("composite %s: %w", env.Type, err)
		}
		c.subs = append(c.subs, s)
		if err := s.Init(env.Child(typ)); err != nil {
			return fmt.Errorf("composite %s: sub-stage %s: %w", env.Type, typ, err)
		}
	}
	return nil
}

// Exec runs the chain in registration order. Every sub-stage runs even on
// an empty batch so accelerator sub-stages keep collecting completions.
func (c *Composite) Exec(in []api.Buffer) []api.Buffer {
	cur := in
	for _, s := range c.subs {
		cur = s.Exec(cur)
	}
	return cur
}

// Free releases sub-stages innermost-first. Calling it again is a no-op.
func (c *Composite) Free() error {
	var errs []error
	for i := len(c.subs) - 1; i >= 0; i-- {
		if err := c.subs[i].Free(); err != nil {
			errs = append(errs, fmt.Errorf("sub-stage %s: %w", c.types[i], err))
		}
	}
	c.subs = nil
	return errors.Join(errs...)
}

// Outstanding sums in-flight work across sub-stages.
func (c *Composite) Outstanding() int {
	n := 0
	for _, s := range c.subs {
		n += Outstanding(s)
	}
	return n
}

// Types returns the sub-stage types in chain order.
func (c *Composite) Types() []string { return append([]string(nil), c.types...) }

// Subs returns the initialised sub-stages in chain order.
func (c *Composite) Subs() []Stage { return append([]Stage(nil), c.subs...) }
