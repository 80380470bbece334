// control/platform.go
// Author: momentics <momentics@gmail.com>
//
// Platform probes describing the cores the runtime can use.

package control

import (
	"runtime"

	"github.com/momentics/hioload-nf/internal/concurrency"
)

// RegisterPlatformProbes adds platform.cpus, platform.os and
// platform.goroutines.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return concurrency.OnlineCPUs()
	})
	dp.RegisterProbe("platform.os", func() any {
		return runtime.GOOS + "/" + runtime.GOARCH
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
}
