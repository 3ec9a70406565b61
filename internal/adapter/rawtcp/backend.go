// Package rawtcp prints by streaming job payloads straight to a printer's
// raw socket port, one connection per job.
package rawtcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cwygoda/dropprint/internal/dispatch"
)

// DefaultPort is the conventional raw printing port.
const DefaultPort = 9100

const (
	defaultConnectTimeout = 5 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	resultBuffer          = 64

	// resultWriteFailed is reported when the payload could not be streamed.
	resultWriteFailed = 1
)

var errClosed = errors.New("backend closed")

// Backend implements dispatch.Backend for raw socket printers. A job counts
// as printed once its payload has been written and the connection closed
// cleanly; the printer gives no further acknowledgement.
type Backend struct {
	address        string
	connectTimeout time.Duration
	writeTimeout   time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	closed  bool
	writers sync.WaitGroup
	done    chan struct{}
	results chan dispatch.Result
}

// New creates a backend for address. A missing port defaults to DefaultPort.
func New(address string, connectTimeout time.Duration, logger *slog.Logger) *Backend {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, fmt.Sprint(DefaultPort))
	}
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		address:        address,
		connectTimeout: connectTimeout,
		writeTimeout:   defaultWriteTimeout,
		logger:         logger,
		done:           make(chan struct{}),
		results:        make(chan dispatch.Result, resultBuffer),
	}
}

// Address returns the host:port jobs are sent to.
func (b *Backend) Address() string {
	return b.address
}

// Send connects to the printer and streams the payload in the background.
// A failed connect is returned directly; write failures arrive as results.
func (b *Backend) Send(ctx context.Context, req dispatch.Request) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errClosed
	}
	b.writers.Add(1)
	b.mu.Unlock()

	dialer := net.Dialer{Timeout: b.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", b.address)
	if err != nil {
		b.writers.Done()
		return fmt.Errorf("connect %s: %w", b.address, err)
	}

	go func() {
		defer b.writers.Done()
		b.publish(b.stream(conn, req))
	}()
	return nil
}

// Results returns the channel results are delivered on.
func (b *Backend) Results() <-chan dispatch.Result {
	return b.results
}

// Close waits for in-flight writes and closes the results channel.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.writers.Wait()
	close(b.results)
	return nil
}

func (b *Backend) stream(conn net.Conn, req dispatch.Request) dispatch.Result {
	res := dispatch.Result{JobID: req.JobID, ResultCode: dispatch.ResultSuccess}

	_ = conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))
	_, err := conn.Write(req.Payload)
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		b.logger.Warn("raw print failed", "job_id", req.JobID, "address", b.address, "error", err)
		res.ResultCode = resultWriteFailed
		res.ErrorDetail = err.Error()
		return res
	}

	b.logger.Debug("raw print sent", "job_id", req.JobID, "address", b.address, "bytes", len(req.Payload))
	return res
}

func (b *Backend) publish(res dispatch.Result) {
	select {
	case b.results <- res:
	case <-b.done:
		// nobody is listening any more
		select {
		case b.results <- res:
		default:
		}
	}
}
