// Package staging reclaims upload and output files left behind when the
// process stopped before an item's cleanup ran.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imagepipe/internal/logging"
	"imagepipe/internal/services"
)

// CleanStaleResult contains the outcome of a stale file cleanup operation.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes entries older than maxAge from each directory. It returns
// the removed paths and any errors encountered.
func CleanStale(ctx context.Context, dirs []string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}
	if maxAge <= 0 {
		return result
	}
	cutoff := time.Now().Add(-maxAge)

	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
			}
			continue
		}

		for _, entry := range entries {
			if ctx.Err() != nil {
				return result
			}
			path := filepath.Join(dir, entry.Name())
			info, err := entry.Info()
			if err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				wrapped := services.Wrap(services.ErrCleanup, "staging", "sweep", "remove stale entry", err)
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: wrapped})
				logging.WarnWithContext(logger, "failed to remove stale upload", "staging_cleanup_failed",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check upload_dir and output_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
				continue
			}
			result.Removed = append(result.Removed, path)
			if logger != nil {
				logger.Info("removed stale upload",
					logging.String("path", path),
					logging.Duration("age", time.Since(info.ModTime())),
					logging.String(logging.FieldEventType, "staging_cleanup"),
				)
			}
		}
	}
	return result
}

// DirUsage summarizes the contents of one working directory.
type DirUsage struct {
	Path    string    `json:"path"`
	Entries int       `json:"entries"`
	Bytes   int64     `json:"bytes"`
	Oldest  time.Time `json:"oldest,omitempty"`
}

// Usage reports how many entries a directory holds and their total size.
// A missing directory reports zero usage.
func Usage(dir string) (DirUsage, error) {
	usage := DirUsage{Path: dir}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return usage, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return usage, nil
		}
		return usage, err
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		usage.Entries++
		if usage.Oldest.IsZero() || info.ModTime().Before(usage.Oldest) {
			usage.Oldest = info.ModTime()
		}
		if entry.IsDir() {
			size, _ := dirSize(filepath.Join(dir, entry.Name()))
			usage.Bytes += size
			continue
		}
		usage.Bytes += info.Size()
	}
	return usage, nil
}

// dirSize calculates the total size of a directory recursively.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
