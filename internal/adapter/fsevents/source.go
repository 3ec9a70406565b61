// Package fsevents adapts fsnotify to the domain.EventSource port.
package fsevents

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cwygoda/dropprint/internal/domain"
)

// Source subscribes to a single directory with fsnotify. It does not recurse.
type Source struct{}

// New returns an fsnotify-backed event source.
func New() *Source {
	return &Source{}
}

// Subscribe starts watching dir. The stream ends when ctx is cancelled or
// Close is called.
func (s *Source) Subscribe(ctx context.Context, dir string) (domain.EventStream, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	st := &stream{
		w:      w,
		events: make(chan domain.FileEvent, 64),
		errs:   make(chan error, 8),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go st.run(ctx)
	return st, nil
}

type stream struct {
	w      *fsnotify.Watcher
	events chan domain.FileEvent
	errs   chan error
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (st *stream) Events() <-chan domain.FileEvent { return st.events }
func (st *stream) Errors() <-chan error             { return st.errs }

func (st *stream) Close() error {
	var err error
	st.once.Do(func() {
		close(st.stop)
		err = st.w.Close()
		<-st.done
	})
	return err
}

func (st *stream) run(ctx context.Context) {
	defer close(st.done)
	defer close(st.events)
	defer close(st.errs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-st.stop:
			return
		case ev, ok := <-st.w.Events:
			if !ok {
				return
			}
			fe := domain.FileEvent{Kind: kindOf(ev.Op), Path: ev.Name}
			select {
			case st.events <- fe:
			case <-ctx.Done():
				return
			case <-st.stop:
				return
			}
		case err, ok := <-st.w.Errors:
			if !ok {
				return
			}
			select {
			case st.errs <- err:
			default:
				// consumer is behind on errors; drop
			}
		}
	}
}

// kindOf maps fsnotify operations to the event kinds the watcher cares
// about. Only creation triggers printing.
func kindOf(op fsnotify.Op) domain.EventKind {
	if op.Has(fsnotify.Create) {
		return domain.EventCreate
	}
	return domain.EventOther
}
