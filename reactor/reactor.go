// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness reactor interface.

package reactor

import "time"

// EventReactor waits for read readiness on registered descriptors.
type EventReactor interface {
	// Register adds fd for read notifications. userData is returned with
	// every event for fd.
	Register(fd int, userData uintptr) error

	// Unregister removes fd.
	Unregister(fd int) error

	// Wait blocks up to timeout (negative blocks indefinitely, zero polls)
	// and writes ready descriptors into events. An interrupted wait
	// returns zero events and no error.
	Wait(events []Event, timeout time.Duration) (n int, err error)

	// Close releases the reactor.
	Close() error
}

// Event is one readiness notification.
type Event struct {
	Fd       int
	UserData uintptr
	Readable bool
	Hangup   bool // error or hang-up on the descriptor
}
