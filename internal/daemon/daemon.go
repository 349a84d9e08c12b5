package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"scour/internal/api"
	"scour/internal/config"
	"scour/internal/credits"
	"scour/internal/drainer"
	"scour/internal/executor"
	"scour/internal/logging"
	"scour/internal/notifications"
	"scour/internal/pipeline"
	"scour/internal/queue"
	"scour/internal/session"
	"scour/internal/taskrun"
)

// Daemon wires the queue components together and enforces single-instance
// execution via a lock file.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store

	drainer      *drainer.Drainer
	orchestrator *pipeline.Orchestrator
	queueSvc     *api.QueueService
	notifier     notifications.Service

	lockPath string
	lock     *flock.Flock

	apiServer *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies. A nil ledger
// disables credit accounting.
func New(cfg *config.Config, store *queue.Store, runner taskrun.Runner, ledger credits.Ledger, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || runner == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, runner, and logger")
	}

	notifier := notifications.NewService(cfg)
	exec := executor.New(runner, store, logger)
	continuer := session.NewContinuer(store, cfg, logger)
	aggregator := session.NewAggregator(store, true, logger)

	d := &Daemon{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		store:        store,
		drainer:      drainer.New(store, runner, continuer, aggregator, ledger, notifier, cfg, logger),
		orchestrator: pipeline.New(exec, runner, store, ledger, cfg, logger),
		queueSvc:     api.NewQueueService(store, aggregator),
		notifier:     notifier,
		lockPath:     cfg.LockPath(),
		lock:         flock.New(cfg.LockPath()),
	}
	return d, nil
}

// Start acquires the daemon lock and brings up the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scourd instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	server, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		_ = d.lock.Unlock()
		cancel()
		return err
	}
	d.apiServer = server
	if err := d.apiServer.start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return err
	}

	d.running.Store(true)
	d.logger.Info("scourd started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Path()))
	return nil
}

// Stop shuts down the API server and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.apiServer != nil {
		d.apiServer.stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("lock release failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("scourd stopped")
}

// Drain runs one queue drain batch. Safe to invoke concurrently; the store's
// conditional claims are the only coordination between invocations.
func (d *Daemon) Drain(ctx context.Context) (*drainer.Summary, error) {
	return d.drainer.Drain(ctx)
}

// Search runs the synchronous search pipeline.
func (d *Daemon) Search(ctx context.Context, req pipeline.SearchRequest) (*pipeline.SearchResult, error) {
	return d.orchestrator.Search(ctx, req)
}

// QueueService exposes the shared queue read/mutation surface.
func (d *Daemon) QueueService() *api.QueueService {
	return d.queueSvc
}

// Status reports daemon runtime information.
func (d *Daemon) Status(ctx context.Context) (api.DaemonStatus, error) {
	stats, err := d.queueSvc.Stats(ctx)
	if err != nil {
		return api.DaemonStatus{}, err
	}
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		QueueStats:   stats,
	}, nil
}
