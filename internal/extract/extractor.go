// Package extract reads print-source files that may still be in the middle of
// being written by another process.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/cwygoda/dropprint/internal/domain"
)

const (
	DefaultEncoding       = "UTF-8"
	DefaultSettleInterval = 100 * time.Millisecond
	DefaultSettleTimeout  = 2 * time.Second
	DefaultMaxBytes       = 8 << 20
)

// Options configures an Extractor. Zero values select the defaults.
type Options struct {
	Encoding       string
	SettleInterval time.Duration
	SettleTimeout  time.Duration
	MaxBytes       int64
}

// Extractor reads a file once its size has stopped changing and re-encodes
// its text into the configured encoding.
type Extractor struct {
	enc            encoding.Encoding
	encName        string
	passthrough    bool
	settleInterval time.Duration
	settleTimeout  time.Duration
	maxBytes       int64
	logger         *slog.Logger
}

// New creates an Extractor. It fails if the encoding name is not known.
func New(opts Options, logger *slog.Logger) (*Extractor, error) {
	name := strings.TrimSpace(opts.Encoding)
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if opts.SettleInterval <= 0 {
		opts.SettleInterval = DefaultSettleInterval
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = DefaultSettleTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	canonical, _ := ianaindex.IANA.Name(enc)
	return &Extractor{
		enc:            enc,
		encName:        name,
		passthrough:    canonical == "UTF-8",
		settleInterval: opts.SettleInterval,
		settleTimeout:  opts.SettleTimeout,
		maxBytes:       opts.MaxBytes,
		logger:         logger,
	}, nil
}

// LookupEncoding resolves an IANA encoding name such as "UTF-8" or "ISO-8859-1".
func LookupEncoding(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return enc, nil
}

// Extract waits for the file to settle, reads it fully and returns its
// content in the target encoding. Every failure wraps domain.ErrExtractionFailed.
func (e *Extractor) Extract(ctx context.Context, path string) ([]byte, error) {
	size, err := e.settle(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrExtractionFailed, path, err)
	}

	raw, err := e.read(path, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrExtractionFailed, path, err)
	}

	payload, err := e.encode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrExtractionFailed, path, err)
	}

	e.logger.Debug("file extracted",
		"path", path,
		"size", humanize.Bytes(uint64(len(payload))),
		"encoding", e.encName,
	)
	return payload, nil
}

// settle polls the file size until it is non-zero and unchanged across two
// consecutive polls, or until the settle timeout expires.
func (e *Extractor) settle(ctx context.Context, path string) (int64, error) {
	deadline := time.Now().Add(e.settleTimeout)
	last := int64(-1)

	ticker := time.NewTicker(e.settleInterval)
	defer ticker.Stop()

	for {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return 0, errors.New("file vanished before it could be read")
			}
			return 0, err
		}
		if !info.Mode().IsRegular() {
			return 0, errors.New("not a regular file")
		}
		size := info.Size()
		if size > e.maxBytes {
			return 0, fmt.Errorf("file is %s, limit is %s", humanize.Bytes(uint64(size)), humanize.Bytes(uint64(e.maxBytes)))
		}
		if size > 0 && size == last {
			return size, nil
		}
		last = size

		if time.Now().After(deadline) {
			if size == 0 {
				return 0, errors.New("file is empty")
			}
			return 0, fmt.Errorf("file still being written after %s", e.settleTimeout)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Extractor) read(path string, want int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("file vanished before it could be read")
		}
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, e.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != want {
		return nil, fmt.Errorf("file changed while reading: expected %d bytes, read %d", want, len(data))
	}
	return data, nil
}

// encode treats raw as UTF-8 text and converts it to the target encoding.
// Invalid UTF-8 sequences become U+FFFD; characters the target encoding
// cannot represent become its substitution byte.
func (e *Extractor) encode(raw []byte) ([]byte, error) {
	if !utf8.Valid(raw) {
		text, err := unicode.UTF8.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, fmt.Errorf("decode as UTF-8: %w", err)
		}
		e.logger.Debug("invalid UTF-8 replaced", "bytes", len(raw))
		raw = text
	}
	if e.passthrough {
		return raw, nil
	}
	out, err := encoding.ReplaceUnsupported(e.enc.NewEncoder()).Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("encode as %s: %w", e.encName, err)
	}
	return out, nil
}
