// Package command prints by piping each job's payload into an external
// program, such as `lp -d <printer> -o raw`.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cwygoda/dropprint/internal/dispatch"
)

const (
	defaultTimeout = time.Minute
	closeGrace     = 5 * time.Second
	resultBuffer   = 64
	maxDetail      = 512

	// resultFailed is reported when the command could not be waited on.
	resultFailed = 1
)

var errClosed = errors.New("backend closed")

// Backend implements dispatch.Backend by running one process per job. The
// exit status becomes the result code; output becomes the error detail.
type Backend struct {
	command string
	args    []string
	timeout time.Duration
	grace   time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup
	done    chan struct{}
	results chan dispatch.Result
}

// New creates a backend running command with args. It fails if command
// cannot be found. In args, {job_id} is replaced with the job's ID.
func New(command string, args []string, timeout time.Duration, logger *slog.Logger) (*Backend, error) {
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("print command %q: %w", command, err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Backend{
		command: command,
		args:    args,
		timeout: timeout,
		grace:   closeGrace,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		results: make(chan dispatch.Result, resultBuffer),
	}, nil
}

// Send starts the command with the payload on stdin. A command that cannot
// be started is returned as an error; everything after that is a result.
func (b *Backend) Send(ctx context.Context, req dispatch.Request) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errClosed
	}
	b.running.Add(1)
	b.mu.Unlock()

	runCtx, cancel := context.WithTimeout(b.ctx, b.timeout)
	cmd := exec.CommandContext(runCtx, b.command, b.expand(req)...)
	cmd.Stdin = bytes.NewReader(req.Payload)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		cancel()
		b.running.Done()
		return fmt.Errorf("start %s: %w", b.command, err)
	}

	go func() {
		defer b.running.Done()
		defer cancel()
		res := b.wait(cmd, req.JobID, &output)
		select {
		case b.results <- res:
		case <-b.done:
		}
	}()
	return nil
}

// Results returns the channel results are delivered on.
func (b *Backend) Results() <-chan dispatch.Result {
	return b.results
}

// Close lets running commands finish for a short grace period, kills the
// ones still running after it and closes the results channel.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		b.running.Wait()
		close(finished)
	}()

	timer := time.NewTimer(b.grace)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		b.logger.Warn("killing print commands still running", "command", b.command, "grace", b.grace)
		b.cancel()
		<-finished
	}

	b.cancel()
	close(b.results)
	return nil
}

func (b *Backend) expand(req dispatch.Request) []string {
	args := make([]string, len(b.args))
	for i, arg := range b.args {
		arg = strings.ReplaceAll(arg, "{job_id}", req.JobID)
		for k, v := range req.Metadata {
			arg = strings.ReplaceAll(arg, "{"+k+"}", v)
		}
		args[i] = arg
	}
	return args
}

func (b *Backend) wait(cmd *exec.Cmd, jobID string, output *bytes.Buffer) dispatch.Result {
	res := dispatch.Result{JobID: jobID, ResultCode: dispatch.ResultSuccess}
	err := cmd.Wait()
	if err == nil {
		b.logger.Debug("print command finished", "job_id", jobID, "command", b.command)
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		res.ResultCode = exitErr.ExitCode()
	} else {
		res.ResultCode = resultFailed
	}

	detail := strings.TrimSpace(output.String())
	if detail == "" {
		detail = err.Error()
	}
	if len(detail) > maxDetail {
		detail = detail[:maxDetail]
	}
	res.ErrorDetail = fmt.Sprintf("%s failed: %s", b.command, detail)

	b.logger.Warn("print command failed", "job_id", jobID, "command", b.command, "error", err)
	return res
}
