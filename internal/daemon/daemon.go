package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"reelay/internal/config"
	"reelay/internal/encoder"
	"reelay/internal/handler"
	"reelay/internal/job"
	"reelay/internal/journal"
	"reelay/internal/logging"
)

// Daemon coordinates the worker services and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *journal.SQLiteStore

	lockPath string
	lock     *flock.Flock

	registry *encoder.Registry
	server   *handler.Server

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon over an opened journal store.
func New(cfg *config.Config, store *journal.SQLiteStore, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and journal store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "reelayd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	d.registry = encoder.NewRegistry(cfg.ShutdownGrace())
	adapter := encoder.NewAdapter(cfg.Encoder.FFmpegBinary, cfg.InvokeTimeout(), cfg.ShutdownGrace(), d.registry, logger)
	prober := encoder.NewProber(cfg.Encoder.FFprobeBinary)
	workspace := job.NewWorkspace(cfg.Paths.WorkspaceRoot, cfg.Paths.OutputRoot, cfg.StagingTimeout())

	promRegistry := prometheus.NewRegistry()
	metrics := handler.NewMetrics(promRegistry)

	machine := job.NewMachine(
		journal.NewBridge(store, logger),
		store,
		adapter,
		prober,
		workspace,
		job.Policy{
			MaxAttempts: cfg.Jobs.MaxAttempts,
			Backoff:     job.Backoff{Base: cfg.BackoffBase(), Ceiling: cfg.BackoffCeiling()},
		},
		metrics,
		logger,
	)

	h := handler.New(machine, adapter, prober, store, handler.Options{
		ConcurrencyLimit: cfg.Jobs.ConcurrencyLimit,
		AdmissionWait:    cfg.AdmissionWait(),
		WorkspaceRoot:    cfg.Paths.WorkspaceRoot,
		OutputRoot:       cfg.Paths.OutputRoot,
	}, metrics, logger)

	d.server = handler.NewServer(cfg.Paths.APIBind, h, store, promRegistry, logger)
	return d, nil
}

// Start acquires the instance lock and begins serving invocations.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another reelay daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.server.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("reelay daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.Addr()),
	)
	return nil
}

// Addr returns the API server's bound address.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

// Stop drains the HTTP server, terminates live encoder children, and
// releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownGrace()*2)
	defer cancel()
	d.registry.Shutdown(shutdownCtx)

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("reelay daemon stopped")
}

// Close stops the daemon and closes the journal store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}
