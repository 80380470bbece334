// File: input/pcap.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/pcapgo"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// PcapSource preloads captured frames from pcap or pcapng files.
type PcapSource struct {
	replay
}

var _ Source = (*PcapSource)(nil)

// NewPcapSource builds a pcap-mode source.
func NewPcapSource(cfg Config, deps Deps) (Source, error) {
	return &PcapSource{replay: newReplay(cfg, deps, "input.pcap")}, nil
}

func (s *PcapSource) Init() error {
	files, err := expandFiles(s.cfg.Files)
	if err != nil {
		return err
	}
	for i, path := range files {
		more, err := s.load(path, uint16(i))
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return s.loaded(len(files))
}

func (s *PcapSource) load(path string, port uint16) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("input pcap: %w", err)
	}
	defer f.Close()
	br := bufio.NewReader(f)
	magic, _ := br.Peek(4)

	var next func() ([]byte, error)
	if bytes.Equal(magic, pcapngMagic) {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return false, fmt.Errorf("input pcapng %s: %w", path, err)
		}
		next = func() ([]byte, error) {
			data, _, err := r.ReadPacketData()
			return data, err
		}
	} else {
		r, err := pcapgo.NewReader(br)
		if err != nil {
			return false, fmt.Errorf("input pcap %s: %w", path, err)
		}
		next = func() ([]byte, error) {
			data, _, err := r.ReadPacketData()
			return data, err
		}
	}
	for {
		data, err := next()
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("input pcap %s: %w", path, err)
		}
		if !s.add(data, port) {
			return false, nil
		}
	}
}

func (s *PcapSource) Clean() error {
	s.records = nil
	return nil
}
