// Package dispatch submits print jobs to an external backend and correlates
// the backend's asynchronous replies with the jobs that caused them.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwygoda/dropprint/internal/domain"
)

// DefaultTimeout bounds how long a dispatched job may wait for its result.
const DefaultTimeout = 2 * time.Minute

// Callback receives the single outcome of a submitted job.
type Callback func(job *domain.PrintJob, outcome domain.JobOutcome)

// Client submits jobs to a Backend and delivers each reply to the callback
// registered for its job ID, at most once.
type Client struct {
	backend Backend
	timeout time.Duration
	pending *pendingTable
	logger  *slog.Logger

	callbacks sync.WaitGroup
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client and starts consuming backend results.
// A timeout of zero disables expiry of unanswered jobs.
func NewClient(backend Backend, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		backend: backend,
		timeout: timeout,
		pending: newPendingTable(),
		logger:  logger,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.consume()
	return c
}

// Submit registers job and hands it to the backend without waiting for the
// print. If the backend cannot be reached the job is unregistered, cb will
// never be called, and the error wraps domain.ErrDispatchUnreachable.
func (c *Client) Submit(ctx context.Context, job *domain.PrintJob, cb Callback) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Metadata == nil {
		job.Metadata = map[string]string{}
	}
	id := job.ID

	entry := &pendingJob{job: job, callback: cb}
	if !c.pending.add(id, entry, c.timeout, func() { c.expire(id) }) {
		return "", fmt.Errorf("job %s already pending", id)
	}

	err := c.backend.Send(ctx, Request{JobID: id, Payload: job.Payload, Metadata: job.Metadata})
	if err != nil {
		if c.pending.take(id) == nil {
			// outcome was already delivered
			return id, nil
		}
		return "", fmt.Errorf("%w: %w", domain.ErrDispatchUnreachable, err)
	}

	c.logger.Debug("job submitted", "job_id", id, "bytes", len(job.Payload))
	return id, nil
}

// Resolve delivers a backend result to the callback registered for its job.
// Unknown and duplicate IDs are ignored and reported as domain.ErrUnknownJob.
func (c *Client) Resolve(res Result) error {
	entry := c.pending.take(res.JobID)
	if entry == nil {
		c.logger.Warn("result for unknown job ignored", "job_id", res.JobID, "result_code", res.ResultCode)
		return fmt.Errorf("%w: %s", domain.ErrUnknownJob, res.JobID)
	}
	c.deliver(entry, res.Outcome())
	return nil
}

// Pending returns the number of jobs waiting for a result.
func (c *Client) Pending() int {
	return c.pending.len()
}

// Close stops consuming results and closes the backend. Jobs still pending
// keep their timers and resolve as timeouts.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopCh)
		<-c.done
		err = c.backend.Close()
	})
	return err
}

// Wait blocks until all delivered callbacks have returned.
func (c *Client) Wait() {
	c.callbacks.Wait()
}

func (c *Client) consume() {
	defer close(c.done)
	results := c.backend.Results()
	for {
		select {
		case <-c.stopCh:
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			// unknown IDs are logged by Resolve
			_ = c.Resolve(res)
		}
	}
}

func (c *Client) expire(id string) {
	entry := c.pending.take(id)
	if entry == nil {
		return
	}
	c.logger.Warn("job timed out", "job_id", id, "timeout", c.timeout)
	c.deliver(entry, domain.JobOutcome{
		JobID:       id,
		TimedOut:    true,
		ErrorDetail: fmt.Sprintf("%v within %s", domain.ErrDispatchTimeout, c.timeout),
	})
}

// deliver runs the callback off the result-reading goroutine.
func (c *Client) deliver(entry *pendingJob, outcome domain.JobOutcome) {
	c.callbacks.Add(1)
	go func() {
		defer c.callbacks.Done()
		entry.callback(entry.job, outcome)
	}()
}
