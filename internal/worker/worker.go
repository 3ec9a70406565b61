// Package worker runs tasks on a fixed number of goroutines fed from a
// bounded queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Task is a unit of work. It receives the pool's run context.
type Task func(ctx context.Context)

// Pool is a fixed-size set of workers draining a bounded queue.
type Pool struct {
	size   int
	queue  chan Task
	logger *slog.Logger
}

// New creates a pool of size workers with room for queueSize waiting tasks.
func New(size, queueSize int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		size:   size,
		queue:  make(chan Task, queueSize),
		logger: logger,
	}
}

// Submit queues task without blocking. It returns false when the queue is full.
func (p *Pool) Submit(task Task) bool {
	select {
	case p.queue <- task:
		return true
	default:
		return false
	}
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.queue)
}

// Run starts the workers and blocks until ctx is cancelled and every running
// task has returned. Tasks still queued at that point are discarded.
func (p *Pool) Run(ctx context.Context) {
	p.logger.Debug("worker pool started", "workers", p.size, "queue", cap(p.queue))

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()

	dropped := 0
drain:
	for {
		select {
		case <-p.queue:
			dropped++
		default:
			break drain
		}
	}
	if dropped > 0 {
		p.logger.Info("discarded queued tasks", "count", dropped)
	}
	p.logger.Debug("worker pool stopped")
}

func (p *Pool) work(ctx context.Context) {
	for {
		// prefer shutdown over picking up more work
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case task := <-p.queue:
			p.run(ctx, task)
		}
	}
}

func (p *Pool) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	task(ctx)
}
