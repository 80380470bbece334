//go:build !linux

// File: input/live_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input

import "github.com/momentics/hioload-nf/api"

// NewLiveSource reports that raw interface capture is Linux only.
func NewLiveSource(cfg Config, deps Deps) (Source, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "input live: raw capture needs linux")
}
