// Package simulation drives populations of agents through plan templates.
package simulation

import (
	"fmt"
	"sync"

	"github.com/anggasct/planfsm"
)

// EventSource supplies the events of one agent in plan execution order
type EventSource interface {
	// Next returns the next event; ok is false once the source is exhausted
	Next() (event planfsm.Event, ok bool, err error)
	// Source returns a human readable description of where events come from
	Source() string
	// Total returns the (estimated) number of events
	Total() int64
	// Progress returns an estimated progress between 0 and 100
	Progress() int
	Close() error
}

// SliceSource serves events from memory
type SliceSource struct {
	name   string
	events []planfsm.Event
	pos    int
	closed bool
	mutex  sync.Mutex
}

var _ EventSource = (*SliceSource)(nil)

// NewSliceSource creates a source over events
func NewSliceSource(name string, events ...planfsm.Event) *SliceSource {
	return &SliceSource{
		name:   name,
		events: events,
	}
}

// Next returns the next event
func (s *SliceSource) Next() (planfsm.Event, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return planfsm.Event{}, false, fmt.Errorf("source %s is closed", s.name)
	}
	if s.pos >= len(s.events) {
		return planfsm.Event{}, false, nil
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, true, nil
}

// Source returns the source name
func (s *SliceSource) Source() string {
	return s.name
}

// Total returns the number of events
func (s *SliceSource) Total() int64 {
	return int64(len(s.events))
}

// Progress returns the share of events already served
func (s *SliceSource) Progress() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.events) == 0 {
		return 100
	}
	return s.pos * 100 / len(s.events)
}

// Close marks the source closed
func (s *SliceSource) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}
