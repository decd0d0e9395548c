// Package daemonrun assembles the imagepipe runtime and runs it until the
// process receives SIGINT or SIGTERM.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"imagepipe/internal/config"
	"imagepipe/internal/daemon"
	"imagepipe/internal/deps"
	"imagepipe/internal/history"
	"imagepipe/internal/logging"
	"imagepipe/internal/logs"
	"imagepipe/internal/notifications"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/preflight"
	"imagepipe/internal/progress"
	"imagepipe/internal/services/captioner"
	"imagepipe/internal/services/enhancer"
	"imagepipe/internal/services/sftp"
	"imagepipe/internal/stage"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the imagepipe daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("imagepipe-%s.log", runID))
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update imagepipe.log link: %v\n", err)
	}
	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.LogDir, "imagepipe.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := history.Open(cfg)
	if err != nil {
		logger.Error("open history store", logging.Error(err))
		return err
	}

	comp, err := buildComponents(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	comp.LogPath = logPath

	d, err := daemon.New(cfg, logger, comp)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("imagepipe daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// buildComponents wires the stage adapters and orchestrator from config.
func buildComponents(cfg *config.Config, store *history.Store, logger *slog.Logger) (daemon.Components, error) {
	bus := progress.NewBus(cfg.Pipeline.SubscriberBuffer)

	enh, err := enhancer.New(enhancer.SettingsFromConfig(cfg), enhancer.WithLogger(logger))
	if err != nil {
		return daemon.Components{}, fmt.Errorf("configure enhancer: %w", err)
	}
	conn := sftp.NewConn(sftp.SettingsFromConfig(cfg), sftp.WithConnLogger(logger))
	uploader := sftp.NewUploader(conn, sftp.UploaderSettingsFromConfig(cfg), logger)

	orchestrator := pipeline.NewFromConfig(cfg, enh, uploader, bus, logger,
		pipeline.WithRecorder(store),
		pipeline.WithNotifier(notifications.NewService(cfg)),
	)

	comp := daemon.Components{
		Runner:   orchestrator,
		Bus:      bus,
		History:  store,
		Transfer: conn,
		Stages:   []stage.Checker{enh, uploader},
	}
	if cfg.Captioner.Enabled {
		capt, err := captioner.New(cfg, logger)
		if err != nil {
			return daemon.Components{}, fmt.Errorf("configure captioner: %w", err)
		}
		comp.Captioner = capt
		comp.Stages = append(comp.Stages, capt)
	}
	return comp, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := logs.CurrentPath(logDir)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// logDependencySnapshot records external program availability and any failed
// preflight checks once at startup.
func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	statuses := preflight.CheckSystemDeps(ctx, cfg)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("transfer_configured", cfg.TransferConfigured()),
		logging.Bool("captioner_enabled", cfg.Captioner.Enabled),
		logging.Bool("inbox_enabled", cfg.Inbox.Enabled),
	}
	for _, status := range statuses {
		key := strings.ToLower(status.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)

	for _, missing := range deps.MissingRequired(statuses) {
		logging.WarnWithContext(logger, "required program missing", "dependency_missing",
			logging.String("dependency", missing.Name),
			logging.String("detail", missing.Detail),
			logging.String(logging.FieldErrorHint, "install it or point the config at the right binary"),
			logging.String(logging.FieldImpact, "batches will fail at the stage that needs it"),
		)
	}
	for _, check := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
		)
	}
}
