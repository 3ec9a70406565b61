package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// requestLogger adapts chi's request logging to slog.
type requestLogger struct {
	logger *slog.Logger
}

func (l requestLogger) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &requestLogEntry{
		logger: l.logger.With(
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
		),
	}
}

type requestLogEntry struct {
	logger *slog.Logger
}

func (e *requestLogEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra any) {
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "http request",
		"status", status,
		"bytes", bytes,
		"elapsed", elapsed,
	)
}

func (e *requestLogEntry) Panic(v any, stack []byte) {
	e.logger.Error("http handler panic", "panic", v, "stack", string(stack))
}
