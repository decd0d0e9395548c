// Package artifacts tracks temporary files created while processing an item
// and deletes each of them exactly once.
package artifacts

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"imagepipe/internal/logging"
	"imagepipe/internal/services"
)

// Remover deletes a path. os.Remove satisfies it.
type Remover func(path string) error

// Summary describes the outcome of a Release call.
type Summary struct {
	Removed []string
	Missing []string
	Failed  map[string]error
}

// Attempted returns every path Release tried to delete.
func (s Summary) Attempted() int {
	return len(s.Removed) + len(s.Missing) + len(s.Failed)
}

// Tracker collects temporary paths owned by one item.
type Tracker struct {
	mu       sync.Mutex
	paths    []string
	seen     map[string]struct{}
	released bool
	remove   Remover
	logger   *slog.Logger
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithRemover overrides the delete function.
func WithRemover(fn Remover) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.remove = fn
		}
	}
}

// New constructs an empty tracker.
func New(logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		seen:   make(map[string]struct{}),
		remove: os.Remove,
		logger: logging.NewComponentLogger(logger, "artifacts"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add registers a path for deletion. Empty and duplicate paths are ignored, as
// are paths added after Release.
func (t *Tracker) Add(path string) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	if _, ok := t.seen[path]; ok {
		return
	}
	t.seen[path] = struct{}{}
	t.paths = append(t.paths, path)
}

// Paths returns the tracked paths in registration order.
func (t *Tracker) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.paths...)
}

// Release deletes every tracked path once. Later calls do nothing. Failures
// are logged, never returned.
func (t *Tracker) Release() Summary {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return Summary{}
	}
	t.released = true
	paths := t.paths
	t.paths = nil
	t.mu.Unlock()

	summary := Summary{}
	for _, path := range paths {
		err := t.remove(path)
		switch {
		case err == nil:
			summary.Removed = append(summary.Removed, path)
		case errors.Is(err, fs.ErrNotExist):
			summary.Missing = append(summary.Missing, path)
		default:
			if summary.Failed == nil {
				summary.Failed = make(map[string]error)
			}
			cleanupErr := services.Wrap(services.ErrCleanup, "cleanup", "remove", "delete temporary file", err)
			summary.Failed[path] = cleanupErr
			logging.WarnWithContext(t.logger, "temporary file cleanup failed", "cleanup_failed",
				logging.String("path", path),
				logging.Error(cleanupErr),
				logging.String(logging.FieldErrorHint, "check permissions on the upload and output directories"),
				logging.String(logging.FieldImpact, "file remains on disk until the stale upload sweeper removes it"),
			)
		}
	}
	if len(summary.Removed) > 0 {
		t.logger.Debug("temporary files removed",
			logging.Int("count", len(summary.Removed)),
			logging.String(logging.FieldEventType, "cleanup_complete"),
		)
	}
	return summary
}
