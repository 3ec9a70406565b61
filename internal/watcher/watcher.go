// Package watcher turns newly created files in one directory into print jobs.
//
// A Watcher subscribes to an EventSource, filters events by path, and hands
// each accepted file to a bounded worker pool. Workers extract the file's
// content, record the job and submit it for printing; the outcome arrives
// later through the dispatch callback and is reconciled by the
// domain.OutcomeHandler. Stopping a watcher ends the subscription but never
// cancels jobs that were already dispatched.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cwygoda/dropprint/internal/dispatch"
	"github.com/cwygoda/dropprint/internal/domain"
	"github.com/cwygoda/dropprint/internal/worker"
)

var (
	ErrAlreadyWatching = errors.New("watcher already watching")
	ErrNotWatching     = errors.New("watcher not watching")
	ErrInvalidTarget   = errors.New("invalid watch target")
)

// State is the lifecycle state of a Watcher.
type State int

const (
	Stopped State = iota
	Watching
)

func (s State) String() string {
	if s == Watching {
		return "watching"
	}
	return "stopped"
}

// Extractor reads a settled file into a print payload.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]byte, error)
}

// Submitter hands a job to the print backend.
type Submitter interface {
	Submit(ctx context.Context, job *domain.PrintJob, cb dispatch.Callback) (string, error)
}

// Options wires a Watcher's collaborators. Repo may be nil.
type Options struct {
	Source    domain.EventSource
	Filter    domain.PathFilter
	Extractor Extractor
	Client    Submitter
	Handler   *domain.OutcomeHandler
	Repo      domain.JobRepository
	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

// Stats are running counters since the watcher was created.
type Stats struct {
	Events        uint64 `json:"events"`
	Accepted      uint64 `json:"accepted"`
	Dispatched    uint64 `json:"dispatched"`
	ExtractFailed uint64 `json:"extract_failed"`
	Unreachable   uint64 `json:"unreachable"`
	Dropped       uint64 `json:"dropped"`
}

// Watcher watches a single directory. Watchers share no state, so several
// may run side by side.
type Watcher struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	target domain.WatchTarget
	stream domain.EventStream
	cancel context.CancelFunc
	done   chan struct{}

	events        atomic.Uint64
	accepted      atomic.Uint64
	dispatched    atomic.Uint64
	extractFailed atomic.Uint64
	unreachable   atomic.Uint64
	dropped       atomic.Uint64
}

// New creates a stopped watcher.
func New(opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	return &Watcher{
		opts:   opts,
		logger: opts.Logger,
		state:  Stopped,
	}
}

// Start validates target and begins watching it. Outcomes of jobs
// dispatched by this run are handled with a context detached from ctx, so
// they are honored even after Stop.
func (w *Watcher) Start(ctx context.Context, target domain.WatchTarget) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == Watching {
		return ErrAlreadyWatching
	}
	if err := ValidateTarget(target); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream, err := w.opts.Source.Subscribe(runCtx, target.Directory)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to %s: %w", target.Directory, err)
	}

	pool := worker.New(w.opts.Workers, w.opts.QueueSize, w.logger)
	outcomeCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pool.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		w.consume(runCtx, stream, pool, outcomeCtx)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	w.state = Watching
	w.target = target
	w.stream = stream
	w.cancel = cancel
	w.done = done

	w.logger.Info("watching directory", "dir", target.Directory, "extension", w.opts.Filter.Extension())
	return nil
}

// Stop ends the subscription and waits for in-flight extraction to finish.
// Events still queued are discarded; dispatched jobs keep their callbacks.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != Watching {
		return ErrNotWatching
	}

	w.cancel()
	err := w.stream.Close()
	<-w.done

	w.logger.Info("stopped watching directory", "dir", w.target.Directory)
	w.state = Stopped
	w.stream = nil
	w.cancel = nil
	w.done = nil
	return err
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Target returns the directory being watched, or the last one watched.
func (w *Watcher) Target() domain.WatchTarget {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.target
}

// Stats returns a snapshot of the watcher's counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Events:        w.events.Load(),
		Accepted:      w.accepted.Load(),
		Dispatched:    w.dispatched.Load(),
		ExtractFailed: w.extractFailed.Load(),
		Unreachable:   w.unreachable.Load(),
		Dropped:       w.dropped.Load(),
	}
}

// ValidateTarget checks that the directory exists, is a directory and can be
// listed.
func ValidateTarget(target domain.WatchTarget) error {
	if target.Directory == "" {
		return fmt.Errorf("%w: directory is empty", ErrInvalidTarget)
	}
	info, err := os.Stat(target.Directory)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidTarget, target.Directory)
	}
	f, err := os.Open(target.Directory)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s is not readable: %w", ErrInvalidTarget, target.Directory, err)
	}
	return nil
}

// consume filters events and queues accepted ones. It does no file I/O.
func (w *Watcher) consume(ctx context.Context, stream domain.EventStream, pool *worker.Pool, outcomeCtx context.Context) {
	events := stream.Events()
	errs := stream.Errors()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("event source error", "error", err)
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					w.logger.Warn("event stream ended")
				}
				return
			}
			w.events.Add(1)
			if ev.Kind != domain.EventCreate || !w.opts.Filter.Qualifies(ev.Path) {
				continue
			}
			w.accepted.Add(1)

			path := ev.Path
			if !pool.Submit(func(ctx context.Context) { w.process(ctx, outcomeCtx, path) }) {
				w.dropped.Add(1)
				w.logger.Warn("work queue full, file skipped", "path", path)
			}
		}
	}
}

// process turns one accepted path into a dispatched job.
func (w *Watcher) process(ctx, outcomeCtx context.Context, path string) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		w.logger.Debug("directory ignored", "path", path)
		return
	}

	payload, err := w.opts.Extractor.Extract(ctx, path)
	if ctx.Err() != nil {
		w.logger.Debug("stopped before dispatch, file left in place", "path", path)
		return
	}
	if err != nil {
		w.extractFailed.Add(1)
		w.logger.Warn("file skipped", "path", path, "error", err)
		return
	}

	job := &domain.PrintJob{
		ID:         uuid.NewString(),
		SourcePath: path,
		Payload:    payload,
		Metadata:   map[string]string{},
		CreatedAt:  time.Now(),
	}

	if w.opts.Repo != nil {
		if err := w.opts.Repo.Create(outcomeCtx, domain.NewJobRecord(job)); err != nil {
			w.logger.Warn("failed to record job", "job_id", job.ID, "error", err)
		}
	}

	// a submit that has begun runs to completion even if Stop lands now
	_, err = w.opts.Client.Submit(outcomeCtx, job, func(job *domain.PrintJob, outcome domain.JobOutcome) {
		w.opts.Handler.OnOutcome(outcomeCtx, job, outcome)
	})
	if err != nil {
		w.unreachable.Add(1)
		w.opts.Handler.OnUnreachable(outcomeCtx, job, err)
		return
	}

	w.dispatched.Add(1)
	w.logger.Info("job dispatched", "job_id", job.ID, "file", job.FileName(), "bytes", len(payload))
}
