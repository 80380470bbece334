// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory input source for driver and controller tests.

package fake

import (
	"io"
	"sync"

	"github.com/momentics/hioload-nf/api"
)

// Source replays payloads as tracked fake buffers.
type Source struct {
	Payloads   [][]byte
	Iterations int   // zero means once
	Tracker    *Tracker
	InitErr    error // returned by Init
	NextErr    error // returned by Next once the payloads are used up

	mu      sync.Mutex
	pos     int
	iter    int
	inits   int
	cleans  int
	emitted []*Buffer
}

func (s *Source) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	if s.Tracker == nil {
		s.Tracker = &Tracker{}
	}
	return s.InitErr
}

func (s *Source) Next(dst []api.Buffer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iterations := max(s.Iterations, 1)
	n := 0
	for n < len(dst) && len(s.Payloads) > 0 && s.iter < iterations {
		b := s.Tracker.NewBuffer(s.Payloads[s.pos])
		s.emitted = append(s.emitted, b)
		dst[n] = b
		n++
		if s.pos++; s.pos == len(s.Payloads) {
			s.pos = 0
			s.iter++
		}
	}
	if n == 0 {
		if s.NextErr != nil {
			return 0, s.NextErr
		}
		return 0, io.EOF
	}
	return n, nil
}

func (s *Source) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleans++
	return nil
}

// Emitted returns every buffer handed out so far.
func (s *Source) Emitted() []*Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Buffer(nil), s.emitted...)
}

// Calls returns how many times Init and Clean ran.
func (s *Source) Calls() (inits, cleans int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits, s.cleans
}
