// File: stages/echo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stages

import (
	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/stage"
)

// Echo forwards every buffer unchanged.
type Echo struct{}

var _ stage.Stage = (*Echo)(nil)

func (*Echo) Init(*stage.Env) error { return nil }

func (*Echo) Exec(in []api.Buffer) []api.Buffer { return in }

func (*Echo) Free() error { return nil }
