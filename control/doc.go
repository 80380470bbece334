// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime control plane for hioload-nf pipelines.
//
// Provides concurrent-safe state handling primitives including:
//   - Config snapshots with validated updates and reload listeners
//   - A metrics registry refreshed from the statistics table
//   - Named debug probes (topology, queue depths, platform)
//
// The admin HTTP surface lives in control/httpapi.
package control
