// File: facade/report.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import "time"

// Report accounts for every buffer a run injected.
type Report struct {
	RunID   string        `json:"run_id"`
	Reason  string        `json:"reason"`
	Elapsed time.Duration `json:"elapsed_ns"`

	Injected  uint64 `json:"injected"`  // accepted by the head queue
	Delivered uint64 `json:"delivered"` // taken off the tail queue
	Dropped   uint64 `json:"dropped"`   // consumed by stages
	Swept     uint64 `json:"swept"`     // left in queues or worker residuals at stop
	Recovered uint64 `json:"recovered"` // returned by the accelerator drain
	Abandoned uint64 `json:"abandoned"` // still held by a device after the drain bound
	Unsent    uint64 `json:"unsent"`    // pulled from the input, never injected

	// Leaked counts pool buffers still live after teardown beyond the
	// abandoned ones.
	Leaked int64 `json:"leaked"`

	DrainTimeouts int `json:"drain_timeouts"`
}

// Accounted sums the buffers whose fate is known.
func (r Report) Accounted() uint64 {
	return r.Delivered + r.Dropped + r.Swept + r.Recovered + r.Abandoned
}

// Conserved reports whether nothing leaked and no buffer was counted
// twice. Buffers a stage still held at Free, such as a reorder window,
// make up the gap between Accounted and Injected.
func (r Report) Conserved() bool {
	return r.Leaked == 0 && r.Accounted() <= r.Injected
}
