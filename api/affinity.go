// Package api
// Author: momentics@gmail.com
//
// CPU affinity and thread pinning for pipeline workers.

package api

// Affinity controls execution on particular CPUs.
type Affinity interface {
	// Pin locks the calling goroutine to its OS thread and binds that
	// thread to cpuID. numaID is advisory and may be -1.
	Pin(cpuID int, numaID int) error
	// Unpin releases the OS thread lock.
	Unpin() error
	// Get returns the CPU and NUMA node last pinned, or -1 when unpinned.
	Get() (cpuID int, numaID int, err error)
}
