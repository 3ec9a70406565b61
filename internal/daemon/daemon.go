// Package daemon wires the watcher, the dispatch client, the job history and
// the status API together and runs them as one single-instance process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/cwygoda/dropprint/internal/adapter/command"
	"github.com/cwygoda/dropprint/internal/adapter/fsevents"
	httpapi "github.com/cwygoda/dropprint/internal/adapter/http"
	"github.com/cwygoda/dropprint/internal/adapter/notify"
	"github.com/cwygoda/dropprint/internal/adapter/rawtcp"
	"github.com/cwygoda/dropprint/internal/adapter/sqlite"
	"github.com/cwygoda/dropprint/internal/adapter/wsbackend"
	"github.com/cwygoda/dropprint/internal/config"
	"github.com/cwygoda/dropprint/internal/dispatch"
	"github.com/cwygoda/dropprint/internal/domain"
	"github.com/cwygoda/dropprint/internal/extract"
	"github.com/cwygoda/dropprint/internal/watcher"
)

// ErrAlreadyRunning is returned when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another dropprint instance is already running")

const shutdownTimeout = 10 * time.Second

// Deps overrides the adapters the daemon would otherwise build from config.
// Nil fields use the real implementation.
type Deps struct {
	Source   domain.EventSource
	Backend  dispatch.Backend
	Notifier domain.Notifier
}

// Daemon owns every long-lived component of a running dropprint.
type Daemon struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock

	ready     chan struct{}
	apiAddr   string
	startedAt time.Time
}

// New constructs a daemon. Nothing is opened until Run.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	lockPath := filepath.Join(cfg.StateDir, "dropprint.lock")
	return &Daemon{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the daemon is watching and serving.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// APIAddr returns the address the status API is bound to, once Ready.
func (d *Daemon) APIAddr() string {
	return d.apiAddr
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails. Components are stopped in reverse start order.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", "error", err)
		}
	}()

	repo, err := sqlite.New(d.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open job history: %w", err)
	}
	defer repo.Close()

	// outcomes from a previous run can never arrive
	if n, err := repo.AbandonStale(ctx); err != nil {
		d.logger.Warn("failed to abandon stale jobs", "error", err)
	} else if n > 0 {
		d.logger.Info("abandoned stale jobs", "count", n)
	}

	ex, err := extract.New(extract.Options{
		Encoding:       d.cfg.Encoding,
		SettleInterval: d.cfg.SettleInterval,
		SettleTimeout:  d.cfg.SettleTimeout,
		MaxBytes:       d.cfg.MaxFileBytes,
	}, d.logger)
	if err != nil {
		return err
	}

	notifier := notify.NewSerial(d.notifier(), 64, d.logger)
	defer notifier.Close()

	backend, err := d.backend()
	if err != nil {
		return err
	}
	client := dispatch.NewClient(backend, d.cfg.Backend.ResultTimeout, d.logger)
	defer func() {
		client.Close()
		client.Wait()
	}()

	filter := domain.NewPathFilter(d.cfg.Extension)
	w := watcher.New(watcher.Options{
		Source:    d.source(),
		Filter:    filter,
		Extractor: ex,
		Client:    client,
		Handler:   domain.NewOutcomeHandler(notifier, repo, d.logger),
		Repo:      repo,
		Workers:   d.cfg.Workers,
		QueueSize: d.cfg.QueueSize,
		Logger:    d.logger,
	})

	var api *httpapi.Server
	var ln net.Listener
	if d.cfg.API.Listen != "" {
		ln, err = net.Listen("tcp", d.cfg.API.Listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", d.cfg.API.Listen, err)
		}
		d.apiAddr = ln.Addr().String()
		api = httpapi.NewServer(repo, func() httpapi.Status {
			target := w.Target()
			history, err := repo.CountByStatus(context.Background())
			if err != nil {
				d.logger.Warn("failed to count job history", "error", err)
			}
			return httpapi.Status{
				State:     w.State().String(),
				Directory: target.Directory,
				Extension: filter.Extension(),
				Backend:   d.cfg.Backend.Kind,
				Pending:   client.Pending(),
				Stats:     w.Stats(),
				StartedAt: d.startedAt,
				History:   history,
			}
		}, d.cfg.API.Listen, d.logger)
	}

	d.startedAt = time.Now()
	if err := w.Start(ctx, domain.WatchTarget{Directory: d.cfg.WatchDir}); err != nil {
		if ln != nil {
			ln.Close()
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if api != nil {
		g.Go(func() error {
			return api.Serve(ln)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		d.logger.Info("shutting down")

		if api != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := api.Shutdown(shutdownCtx); err != nil {
				d.logger.Warn("status API shutdown error", "error", err)
			}
		}
		if err := w.Stop(); err != nil && !errors.Is(err, watcher.ErrNotWatching) {
			d.logger.Warn("watcher stop error", "error", err)
		}
		if n := client.Pending(); n > 0 {
			d.logger.Info("exiting with jobs awaiting results", "count", n)
		}
		return nil
	})

	d.logger.Info("dropprint started",
		"dir", d.cfg.WatchDir,
		"backend", d.cfg.Backend.Kind,
		"api", d.apiAddr,
		"lock", d.lockPath,
	)
	close(d.ready)

	return g.Wait()
}

func (d *Daemon) source() domain.EventSource {
	if d.deps.Source != nil {
		return d.deps.Source
	}
	return fsevents.New()
}

func (d *Daemon) backend() (dispatch.Backend, error) {
	if d.deps.Backend != nil {
		return d.deps.Backend, nil
	}
	switch d.cfg.Backend.Kind {
	case config.BackendWebSocket:
		return wsbackend.New(d.cfg.Backend.URL, d.cfg.Backend.ConnectTimeout, nil, d.logger), nil
	case config.BackendRaw:
		return rawtcp.New(d.cfg.Backend.Address, d.cfg.Backend.ConnectTimeout, d.logger), nil
	case config.BackendCommand:
		return command.New(d.cfg.Backend.Command, d.cfg.Backend.Args, d.cfg.Backend.ResultTimeout, d.logger)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", d.cfg.Backend.Kind)
	}
}

func (d *Daemon) notifier() domain.Notifier {
	if d.deps.Notifier != nil {
		return d.deps.Notifier
	}
	var sinks notify.Multi
	if d.cfg.Notify.Desktop {
		sinks = append(sinks, notify.NewDesktop(d.logger))
	}
	if d.cfg.Notify.Log {
		sinks = append(sinks, notify.NewLog(d.logger))
	}
	if len(sinks) == 0 {
		return notify.Noop()
	}
	return sinks
}
