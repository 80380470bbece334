// File: input/mmap.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Remote memory-mapped input. The descriptor file starts with a fixed
// header of two little-endian u64 values, the offset and length of the
// packet region inside the same file. The region is a sequence of records,
// each a little-endian u16 length followed by that many payload bytes.

package input

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hioload-nf/api"
)

// MmapHeaderSize is the size of the descriptor header.
const MmapHeaderSize = 16

// MmapSource replays records straight out of a read-only mapping of the
// descriptor file. Records are copied into pool buffers only as they are
// handed out.
type MmapSource struct {
	replay
	maps [][]byte
}

var _ Source = (*MmapSource)(nil)

// NewMmapSource builds a remote_mmap-mode source.
func NewMmapSource(cfg Config, deps Deps) (Source, error) {
	return &MmapSource{replay: newReplay(cfg, deps, "input.remote_mmap")}, nil
}

func (s *MmapSource) Init() error {
	files, err := expandFiles(s.cfg.Files)
	if err != nil {
		return err
	}
	for i, path := range files {
		data, err := mapFile(path)
		if err != nil {
			return err
		}
		s.maps = append(s.maps, data)
		region, err := mmapRegion(data)
		if err != nil {
			return api.ConfigError("input remote_mmap: %v", err).WithContext("path", path)
		}
		more, err := splitRecords(region, func(rec []byte) bool { return s.add(rec, uint16(i)) })
		if err != nil {
			return api.ConfigError("input remote_mmap: %v", err).WithContext("path", path)
		}
		if !more {
			break
		}
	}
	return s.loaded(len(files))
}

// Clean unmaps every descriptor file.
func (s *MmapSource) Clean() error {
	s.records = nil
	var first error
	for _, m := range s.maps {
		if err := unmapFile(m); err != nil && first == nil {
			first = err
		}
	}
	s.maps = nil
	return first
}

// mmapRegion validates the header and returns the packet region.
func mmapRegion(data []byte) ([]byte, error) {
	if len(data) < MmapHeaderSize {
		return nil, fmt.Errorf("descriptor shorter than its %d byte header", MmapHeaderSize)
	}
	off := binary.LittleEndian.Uint64(data[0:8])
	n := binary.LittleEndian.Uint64(data[8:16])
	size := uint64(len(data))
	if off < MmapHeaderSize || off > size || n > size-off {
		return nil, fmt.Errorf("region [%d,+%d) outside file of %d bytes", off, n, size)
	}
	return data[off : off+n], nil
}

// splitRecords calls fn for every length-prefixed record in region until
// fn returns false. It reports whether the whole region was consumed.
func splitRecords(region []byte, fn func([]byte) bool) (bool, error) {
	for pos := 0; pos < len(region); {
		if len(region)-pos < 2 {
			return false, fmt.Errorf("truncated record length at offset %d", pos)
		}
		n := int(binary.LittleEndian.Uint16(region[pos:]))
		pos += 2
		if n > len(region)-pos {
			return false, fmt.Errorf("record at offset %d overruns region by %d bytes", pos-2, n-(len(region)-pos))
		}
		if n > 0 && !fn(region[pos:pos+n:pos+n]) {
			return false, nil
		}
		pos += n
	}
	return true, nil
}

// WriteMmapDescriptor encodes payloads in the descriptor layout with the
// region immediately after the header.
func WriteMmapDescriptor(payloads [][]byte) []byte {
	size := 0
	for _, p := range payloads {
		size += 2 + len(p)
	}
	out := make([]byte, MmapHeaderSize, MmapHeaderSize+size)
	binary.LittleEndian.PutUint64(out[0:8], MmapHeaderSize)
	binary.LittleEndian.PutUint64(out[8:16], uint64(size))
	for _, p := range payloads {
		out = binary.LittleEndian.AppendUint16(out, uint16(len(p)))
		out = append(out, p...)
	}
	return out
}
