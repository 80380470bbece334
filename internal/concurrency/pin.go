// File: internal/concurrency/pin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-generic thread pinning helpers. The affinity syscalls live in
// pin_linux.go; other platforms only lock the goroutine to its OS thread.

package concurrency

import (
	"fmt"
	"runtime"
)

// PinCurrentThread locks the calling goroutine to its OS thread and binds
// that thread to cpuID. The lock stays in place even when the affinity call
// fails, so the caller should always pair it with UnpinCurrentThread.
func PinCurrentThread(cpuID int) error {
	runtime.LockOSThread()
	if cpuID < 0 {
		return fmt.Errorf("pin: invalid cpu %d", cpuID)
	}
	return platformSetAffinity(cpuID)
}

// UnpinCurrentThread releases the OS thread lock taken by PinCurrentThread.
func UnpinCurrentThread() {
	runtime.UnlockOSThread()
}

// OnlineCPUs returns the CPUs the process may run on.
func OnlineCPUs() []int {
	if cpus := platformOnlineCPUs(); len(cpus) > 0 {
		return cpus
	}
	n := runtime.NumCPU()
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus
}
