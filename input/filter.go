// File: input/filter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input

import (
	"golang.org/x/net/bpf"
)

// etherTypeFilter returns a classic BPF program accepting whole Ethernet
// frames whose EtherType (or 802.1Q inner EtherType) equals et.
func etherTypeFilter(et uint16) ([]bpf.RawInstruction, error) {
	const (
		etherTypeOff = 12
		innerTypeOff = 16
		vlanTPID     = 0x8100
		snapLen      = 0x40000
	)
	return bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: etherTypeOff, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(et), SkipTrue: 3},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: vlanTPID, SkipFalse: 3},
		bpf.LoadAbsolute{Off: innerTypeOff, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(et), SkipFalse: 1},
		bpf.RetConstant{Val: snapLen},
		bpf.RetConstant{Val: 0},
	})
}
