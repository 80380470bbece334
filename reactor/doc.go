// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a readiness waiter over epoll (Linux). The live
// input source uses it to sleep until its raw sockets have frames queued,
// bounded by a timeout so the driver can still observe the stop flag.
package reactor
