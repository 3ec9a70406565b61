// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// Config holds the logger configuration.
type Config struct {
	Level  string
	Format string
}

// New initializes a slog logger writing to output (stderr when nil).
// Format "auto" picks text on a terminal and JSON otherwise.
func New(cfg Config, output io.Writer) *slog.Logger {
	if output == nil {
		output = os.Stderr
	}

	level := new(slog.Level)
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = new(slog.Level)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch resolveFormat(cfg.Format, output) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}

func resolveFormat(format string, output io.Writer) string {
	if format != "auto" && format != "" {
		return format
	}
	if f, ok := output.(interface{ Fd() uintptr }); ok {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			return "text"
		}
	}
	return "json"
}
