// Package input provides the sources that feed the head of a pipeline and
// the run-mode driver that moves their packets in and out of it.
//
// A source is selected by mode. Preloaded modes (text, pcap, remote_mmap)
// read every packet at Init and replay them a configured number of times,
// optionally paced. The live mode reads raw frames from network interfaces
// until the run is stopped.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package input
