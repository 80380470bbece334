// File: input/text.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input

import (
	"bufio"
	"fmt"
	"os"
)

// TextSource preloads text files, one packet payload per line. Empty
// lines are skipped; the payload excludes the line terminator.
type TextSource struct {
	replay
}

var _ Source = (*TextSource)(nil)

// NewTextSource builds a text-mode source.
func NewTextSource(cfg Config, deps Deps) (Source, error) {
	return &TextSource{replay: newReplay(cfg, deps, "input.text")}, nil
}

func (s *TextSource) Init() error {
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

func (s *TextSource) load(path string, port uint16) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("input text: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if !s.add(append([]byte(nil), line...), port) {
			return false, nil
		}
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("input text %s: %w", path, err)
	}
	return true, nil
}

func (s *TextSource) Clean() error {
	s.records = nil
	return nil
}
