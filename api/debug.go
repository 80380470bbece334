// File: api/debug.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Debug evaluates named probes over live pipeline state, such as queue
// depths or outstanding accelerator operations.
type Debug interface {
	DumpState() map[string]any
	RegisterProbe(name string, fn func() any)
}
