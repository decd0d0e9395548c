package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/gofrs/flock"

	"imagepipe/internal/api"
	"imagepipe/internal/config"
	"imagepipe/internal/history"
	"imagepipe/internal/inbox"
	"imagepipe/internal/logging"
	"imagepipe/internal/preflight"
	"imagepipe/internal/progress"
	"imagepipe/internal/stage"
	"imagepipe/internal/staging"
)

// LockFileName is the instance lock inside the log directory.
const LockFileName = "imagepipe.lock"

// Components are the collaborators the daemon serves and supervises.
// History, Captioner, and Transfer are optional.
type Components struct {
	Runner    api.Runner
	Bus       *progress.Bus
	History   *history.Store
	Captioner api.Captioner
	// Transfer is the shared SFTP connection closed during shutdown.
	Transfer io.Closer
	Stages   []stage.Checker
	// LogPath is the current run's log file; retention never removes it.
	LogPath string
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	base   *slog.Logger
	logger *slog.Logger
	comp   Components

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	api       *apiServer
	scheduler *gocron.Scheduler
	inbox     *inbox.Watcher

	// Status reads these without mu so a status request never waits on Stop.
	running     atomic.Bool
	inboxActive atomic.Bool
	startedAt   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, comp Components) (*Daemon, error) {
	if cfg == nil || logger == nil || comp.Runner == nil {
		return nil, errors.New("daemon requires config, logger, and batch runner")
	}
	if comp.Bus == nil {
		comp.Bus = progress.NewBus(cfg.Pipeline.SubscriberBuffer)
	}
	lockPath := filepath.Join(cfg.Paths.LogDir, LockFileName)
	return &Daemon{
		cfg:      cfg,
		base:     logger,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		comp:     comp,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the API server, the maintenance
// scheduler, and the inbox watcher when enabled.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another imagepipe daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	server := api.NewServer(api.Deps{
		Config:    d.cfg,
		Runner:    d.comp.Runner,
		Bus:       d.comp.Bus,
		Captioner: d.comp.Captioner,
		History:   d.historyStore(),
		Status:    d.Status,
		Logger:    d.base,
	})
	d.api = newAPIServer(d.cfg.Paths.APIBind, server.Router(), d.base)
	if err := d.api.start(d.ctx); err != nil {
		d.abortStart()
		return err
	}

	scheduler, err := d.newScheduler(d.ctx)
	if err != nil {
		d.api.stop()
		d.abortStart()
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	d.scheduler = scheduler
	d.scheduler.StartAsync()

	if d.cfg.Inbox.Enabled {
		watcher := inbox.New(d.cfg, d.comp.Runner, d.base)
		if err := watcher.Start(d.ctx); err != nil {
			logging.WarnWithContext(d.logger, "inbox watcher unavailable", "inbox_start_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that inbox.dir exists and is readable"),
				logging.String(logging.FieldImpact, "files dropped into the inbox will not be processed"),
			)
		} else {
			d.inbox = watcher
			d.inboxActive.Store(true)
		}
	}

	d.startedAt.Store(time.Now().UnixNano())
	d.running.Store(true)
	d.logger.Info("imagepipe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.addr()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) abortStart() {
	d.cancel()
	d.ctx, d.cancel = nil, nil
	d.api = nil
	_ = d.lock.Unlock()
}

// Stop shuts down the API server and scheduler, drains the inbox watcher,
// closes the shared transfer connection, and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if d.scheduler != nil {
		d.scheduler.Stop()
		d.scheduler = nil
	}
	if d.inbox != nil {
		if err := d.inbox.Stop(); err != nil {
			d.logger.Warn("inbox watcher stop failed", logging.Error(err))
		}
		d.inbox = nil
		d.inboxActive.Store(false)
	}
	if d.comp.Transfer != nil {
		if err := d.comp.Transfer.Close(); err != nil {
			d.logger.Warn("failed to close transfer connection", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("imagepipe daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.comp.History != nil {
		return d.comp.History.Close()
	}
	return nil
}

// Addr returns the address the API server is listening on, or "" when stopped.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.api.addr()
}

// LockPath returns the instance lock file location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		LogPath:      d.comp.LogPath,
		Subscribers:  d.comp.Bus.Count(),
		InboxActive:  d.inboxActive.Load(),
		Dependencies: api.FromDependencies(preflight.CheckSystemDeps(ctx, d.cfg)),
		Preflight:    api.FromPreflight(preflight.RunAll(ctx, d.cfg)),
	}
	if status.Running {
		status.StartedAt = api.FormatTime(time.Unix(0, d.startedAt.Load()))
	}
	if d.comp.History != nil {
		status.HistoryDBPath = d.comp.History.Path()
	}
	for _, checker := range d.comp.Stages {
		status.StageHealth = append(status.StageHealth, checker.HealthCheck(ctx))
	}
	for _, dir := range []string{d.cfg.Paths.UploadDir, d.cfg.Paths.OutputDir} {
		usage, err := staging.Usage(dir)
		if err != nil {
			continue
		}
		status.Directories = append(status.Directories, api.FromUsage(usage))
	}
	return status
}

// historyStore avoids handing the API a typed nil inside a non-nil interface.
func (d *Daemon) historyStore() api.BatchStore {
	if d.comp.History == nil {
		return nil
	}
	return d.comp.History
}
