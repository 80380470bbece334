// Package stats
// Author: momentics <momentics@gmail.com>
//
// Per-core statistics table for the pipeline. Every worker core owns one
// cache-line padded Slot and is its only writer; readers (reporter,
// prometheus collector) take relaxed atomic snapshots. Stage-specific
// counters and latency histograms are registered on a slot at init time
// and updated lock-free afterwards.
package stats
