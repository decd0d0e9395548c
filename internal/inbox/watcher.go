// Package inbox turns images dropped into a watched folder into batches.
package inbox

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"imagepipe/internal/config"
	"imagepipe/internal/intake"
	"imagepipe/internal/logging"
	"imagepipe/internal/pipeline"
)

// Runner processes a batch of items.
type Runner interface {
	ProcessBatch(ctx context.Context, items []pipeline.Item) (pipeline.BatchResult, error)
}

// Watcher collects new files in the inbox folder and, once writes have been
// quiet for the debounce delay, submits them as one batch.
type Watcher struct {
	dir       string
	uploadDir string
	debounce  time.Duration
	runner    Runner
	logger    *slog.Logger

	mu       sync.Mutex
	pending  map[string]struct{}
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	ctx      context.Context
	stopChan chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

// New constructs a watcher from configuration.
func New(cfg *config.Config, runner Runner, logger *slog.Logger) *Watcher {
	debounce := time.Duration(cfg.Inbox.DebounceSeconds) * time.Second
	return NewWithDelay(cfg.Inbox.Dir, cfg.Paths.UploadDir, debounce, runner, logger)
}

// NewWithDelay constructs a watcher with an explicit debounce delay.
func NewWithDelay(dir, uploadDir string, debounce time.Duration, runner Runner, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		dir:       dir,
		uploadDir: uploadDir,
		debounce:  debounce,
		runner:    runner,
		logger:    logging.NewComponentLogger(logger, "inbox"),
		pending:   make(map[string]struct{}),
		stopChan:  make(chan struct{}),
	}
}

// Start begins watching. Images already in the folder are queued immediately.
func (w *Watcher) Start(ctx context.Context) error {
	if w.runner == nil {
		return errors.New("inbox runner required")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return err
	}
	w.watcher = watcher
	w.ctx = context.WithoutCancel(ctx)

	w.logger.Info("inbox watcher started",
		logging.String("dir", w.dir),
		logging.Duration("debounce", w.debounce),
		logging.String(logging.FieldEventType, "inbox_started"),
	)

	if entries, err := os.ReadDir(w.dir); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				w.queue(filepath.Join(w.dir, entry.Name()))
			}
		}
	}

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop halts the watcher and waits for an in-progress batch to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopChan)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "inbox watcher error", "inbox_watch_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the inbox directory still exists"),
				logging.String(logging.FieldImpact, "new inbox files may be missed until restart"),
			)
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	w.queue(event.Name)
}

func (w *Watcher) queue(path string) {
	if !intake.IsImage(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.stopped || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	sort.Strings(paths)
	items := make([]pipeline.Item, 0, len(paths))
	for _, path := range paths {
		item, err := intake.Adopt(w.uploadDir, path)
		if err != nil {
			logging.WarnWithContext(w.logger, "inbox file skipped", "inbox_adopt_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check inbox and upload_dir permissions"),
				logging.String(logging.FieldImpact, "file was not processed"),
			)
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return
	}

	result, err := w.runner.ProcessBatch(w.ctx, items)
	if err != nil {
		logging.ErrorWithContext(w.logger, "inbox batch rejected", "inbox_batch_failed", logging.Error(err))
		return
	}
	w.logger.Info("inbox batch finished",
		logging.String(logging.FieldBatchID, result.ID),
		logging.Int("succeeded", result.Succeeded()),
		logging.Int("failed", result.Failed()),
		logging.String(logging.FieldEventType, "inbox_batch_complete"),
	)
}
