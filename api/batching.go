// File: api/batching.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Batch is a bounded, indexable group of items moved as one burst.
type Batch[T any] interface {
	Len() int
	Get(index int) T
	// Slice returns the live view, valid until the batch is reset.
	Slice() []T
}
