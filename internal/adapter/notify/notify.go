// Package notify delivers user-facing messages about print outcomes.
package notify

import (
	"log/slog"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/cwygoda/dropprint/internal/domain"
)

// AppName is the title shown on desktop notifications.
const AppName = "dropprint"

// Desktop shows native desktop notifications via beeep.
type Desktop struct {
	logger *slog.Logger
	notify func(title, message string, icon any) error
}

// NewDesktop returns a desktop notifier. Failures are logged, never returned.
func NewDesktop(logger *slog.Logger) *Desktop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{logger: logger, notify: beeep.Notify}
}

func (d *Desktop) Notify(message string) {
	if err := d.notify(AppName, message, ""); err != nil {
		d.logger.Warn("failed to show notification", "error", err)
	}
}

// Log writes notifications to the structured log.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(message string) {
	l.logger.Info("notification", "message", message)
}

// Multi fans a message out to several notifiers in order.
type Multi []domain.Notifier

func (m Multi) Notify(message string) {
	for _, n := range m {
		n.Notify(message)
	}
}

type noop struct{}

func (noop) Notify(string) {}

// Noop returns a notifier that discards every message.
func Noop() domain.Notifier { return noop{} }

// Serial hands messages to a single goroutine so the wrapped notifier is
// never called concurrently and callers never block on it.
type Serial struct {
	next   domain.Notifier
	logger *slog.Logger
	queue  chan string
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewSerial starts the delivery goroutine. buffer bounds how many messages
// may wait; beyond that messages are dropped and logged.
func NewSerial(next domain.Notifier, buffer int, logger *slog.Logger) *Serial {
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Serial{
		next:   next,
		logger: logger,
		queue:  make(chan string, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Serial) Notify(message string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("notification after close dropped", "message", message)
		return
	}
	select {
	case s.queue <- message:
	default:
		s.logger.Warn("notification queue full, message dropped", "message", message)
	}
}

// Close delivers the messages still queued and stops the goroutine.
func (s *Serial) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Serial) run() {
	defer close(s.done)
	for msg := range s.queue {
		s.next.Notify(msg)
	}
}
