// Package memevents is an in-memory domain.EventSource. Events are injected
// with Emit instead of coming from the filesystem.
package memevents

import (
	"context"
	"sync"

	"github.com/cwygoda/dropprint/internal/domain"
)

const streamBuffer = 64

// Source fans emitted events out to every open subscription.
type Source struct {
	mu      sync.Mutex
	streams map[*Stream]struct{}
	dirs    []string
	dropped int

	// SubscribeErr, when set, is returned by Subscribe.
	SubscribeErr error
}

func New() *Source {
	return &Source{streams: make(map[*Stream]struct{})}
}

func (s *Source) Subscribe(ctx context.Context, dir string) (domain.EventStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubscribeErr != nil {
		return nil, s.SubscribeErr
	}
	st := &Stream{
		src:    s,
		events: make(chan domain.FileEvent, streamBuffer),
		errs:   make(chan error, 8),
	}
	s.streams[st] = struct{}{}
	s.dirs = append(s.dirs, dir)
	return st, nil
}

// Emit delivers ev to every open stream. A stream whose buffer is full
// loses the event, as a kernel watch queue overflow would.
func (s *Source) Emit(ev domain.FileEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for st := range s.streams {
		select {
		case st.events <- ev:
		default:
			s.dropped++
		}
	}
}

// Create is shorthand for emitting a create event for path.
func (s *Source) Create(path string) {
	s.Emit(domain.FileEvent{Kind: domain.EventCreate, Path: path})
}

// Fail delivers err on every open stream's error channel.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for st := range s.streams {
		select {
		case st.errs <- err:
		default:
		}
	}
}

// Open returns the number of subscriptions not yet closed.
func (s *Source) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Dropped returns the number of events lost to full stream buffers.
func (s *Source) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Dirs returns every directory subscribed to so far.
func (s *Source) Dirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dirs...)
}

// Stream is one subscription.
type Stream struct {
	src    *Source
	events chan domain.FileEvent
	errs   chan error
	closed bool
}

func (st *Stream) Events() <-chan domain.FileEvent { return st.events }
func (st *Stream) Errors() <-chan error             { return st.errs }

func (st *Stream) Close() error {
	st.src.mu.Lock()
	defer st.src.mu.Unlock()
	if st.closed {
		return nil
	}
	st.closed = true
	delete(st.src.streams, st)
	close(st.events)
	close(st.errs)
	return nil
}
