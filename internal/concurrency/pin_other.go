//go:build !linux

// File: internal/concurrency/pin_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

func platformSetAffinity(cpuID int) error { return nil }

func platformOnlineCPUs() []int { return nil }
