// File: api/accel.go
// Package api defines the asynchronous accelerator device contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "time"

// OpStatus is the completion status of an accelerator operation.
type OpStatus int

const (
	OpPending OpStatus = iota
	OpSuccess
	OpTimeout
	OpResourceLimit
	OpMalformed
	OpMatchOverflow
	OpFailed
)

func (s OpStatus) String() string {
	switch s {
	case OpPending:
		return "pending"
	case OpSuccess:
		return "success"
	case OpTimeout:
		return "timeout"
	case OpResourceLimit:
		return "resource_limit"
	case OpMalformed:
		return "malformed"
	case OpMatchOverflow:
		return "match_overflow"
	case OpFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Op is a unit of work handed to an accelerator. The adapter owns a fixed
// pool of Ops; a device may hold an Op only between Submit and Collect.
type Op struct {
	Slot   int    // index in the adapter's operation pool
	Src    Buffer // input buffer, retained by the adapter while in flight
	Dst    Buffer // output buffer, may equal Src for in-place devices
	Params any    // device-specific parameters

	Status   OpStatus
	Matches  int // match count for pattern devices
	Produced int // bytes written to Dst

	SubmittedAt time.Time
	CompletedAt time.Time
}

// Reset clears everything except the slot index.
func (o *Op) Reset() {
	slot := o.Slot
	*o = Op{Slot: slot}
}

// AcceleratorDevice is an asynchronous offload engine reached through a
// per-instance queue pair.
type AcceleratorDevice interface {
	// Name identifies the device kind.
	Name() string
	// Submit enqueues up to len(ops) operations and returns how many were
	// accepted. Accepted ops are owned by the device until collected.
	Submit(ops []*Op) int
	// Collect fills dst with completed operations and returns the count.
	Collect(dst []*Op) int
	// Stop halts the device. Outstanding operations are completed with
	// OpFailed and remain collectable.
	Stop() error
}
