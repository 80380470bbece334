// Package scheduler runs one stage instance per worker goroutine.
//
// A worker repeatedly pulls a burst from one of its input queues in
// round-robin order, hands it to the stage and pushes the result to one of
// its output queues, also round-robin. Exec is called on every iteration
// even when nothing was dequeued so accelerator stages keep collecting
// completions. A full output queue is retried until the whole result is
// enqueued; buffers are never dropped by the scheduler.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package scheduler
