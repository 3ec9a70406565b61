// Package wsbackend talks to a print service over a WebSocket connection.
// Requests are JSON text frames; results arrive asynchronously on the same
// connection and may come back in any order.
package wsbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwygoda/dropprint/internal/dispatch"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	resultBuffer        = 64
)

var errClosed = errors.New("backend closed")

// Backend implements dispatch.Backend over a single WebSocket connection.
// The connection is dialled on first use and re-dialled after it drops.
type Backend struct {
	url          string
	header       http.Header
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	readers sync.WaitGroup

	results chan dispatch.Result
	done    chan struct{}
}

// New creates a backend for the given ws:// or wss:// URL.
func New(url string, dialTimeout time.Duration, header http.Header, logger *slog.Logger) *Backend {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
		writeTimeout: defaultWriteTimeout,
		logger:       logger,
		results:      make(chan dispatch.Result, resultBuffer),
		done:         make(chan struct{}),
	}
}

// Send writes req to the print service. It dials first if needed.
func (b *Backend) Send(ctx context.Context, req dispatch.Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errClosed
	}
	if b.conn == nil {
		if err := b.dialLocked(ctx); err != nil {
			return err
		}
	}

	b.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))
	if err := b.conn.WriteJSON(req); err != nil {
		b.conn.Close()
		b.conn = nil
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// Results returns the channel replies are delivered on.
func (b *Backend) Results() <-chan dispatch.Result {
	return b.results
}

// Close shuts the connection down and closes the results channel.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	var err error
	if b.conn != nil {
		b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = b.conn.Close()
		b.conn = nil
	}
	b.mu.Unlock()

	b.readers.Wait()
	close(b.results)
	return err
}

func (b *Backend) dialLocked(ctx context.Context) error {
	conn, _, err := b.dialer.DialContext(ctx, b.url, b.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", b.url, err)
	}
	b.logger.Info("connected to print backend", "url", b.url)
	b.conn = conn
	b.readers.Add(1)
	go b.readLoop(conn)
	return nil
}

// readLoop forwards results from conn until it fails.
func (b *Backend) readLoop(conn *websocket.Conn) {
	defer b.readers.Done()
	for {
		var res dispatch.Result
		if err := conn.ReadJSON(&res); err != nil {
			b.dropConn(conn, err)
			return
		}
		if res.JobID == "" {
			b.logger.Warn("result without job id ignored", "result_code", res.ResultCode)
			continue
		}
		select {
		case b.results <- res:
		case <-b.done:
			return
		}
	}
}

func (b *Backend) dropConn(conn *websocket.Conn, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == conn {
		b.conn = nil
		conn.Close()
	}
	if b.closed || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return
	}
	b.logger.Warn("print backend connection lost", "url", b.url, "error", err)
}
