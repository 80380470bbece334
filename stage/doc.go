// Package stage
// Author: momentics <momentics@gmail.com>
//
// Stage abstraction for the packet pipeline.
//
// A Stage is initialised once before any worker runs, executed repeatedly
// by exactly one worker, and freed once after that worker has joined.
// Exec consumes a batch and returns the buffers to forward; every input
// buffer ends up forwarded, released, or held by an outstanding
// accelerator operation. Exec never fails: malformed packets are counted
// and dropped or passed according to the stage's own policy.
//
// Stage types are selected by name through a Registry. Composite stages
// chain private sub-stages in process without queues between them.
package stage
