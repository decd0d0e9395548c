package logging_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"imagepipe/internal/config"
	"imagepipe/internal/logging"
	"imagepipe/internal/services"
)

func newFileLogger(t *testing.T, format, level string) (string, *slog.Logger) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "test.log")
	l, err := logging.New(logging.Options{
		Format:           format,
		Level:            level,
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return logPath, l
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from config")

	content := readLog(t, filepath.Join(cfg.Paths.LogDir, "imagepipe.log"))
	if !strings.Contains(content, "hello from config") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	path, logger := newFileLogger(t, "console", "info")
	logger.Info("message without caller")

	if content := readLog(t, path); strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	path, logger := newFileLogger(t, "console", "debug")
	logger.Debug("message with caller")

	if content := readLog(t, path); !strings.Contains(content, "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleHeaderFoldsComponentItemAndStage(t *testing.T) {
	path, logger := newFileLogger(t, "console", "info")
	logger.Info("stage started",
		logging.String(logging.FieldComponent, "pipeline"),
		logging.String(logging.FieldItem, "cat.png"),
		logging.String(logging.FieldStage, "enhance"),
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Float64("progress", 0.5),
		logging.Int64("size_bytes", 1536),
	)

	content := readLog(t, path)
	if !strings.Contains(content, "INFO [pipeline] cat.png (enhance) – stage started") {
		t.Fatalf("unexpected header: %q", content)
	}
	if strings.Contains(content, "event_type") {
		t.Fatalf("event_type should be hidden at info: %q", content)
	}
	if !strings.Contains(content, "- progress: 50.0%") {
		t.Fatalf("expected percent formatting: %q", content)
	}
	if !strings.Contains(content, "- size_bytes: 1.5 KiB") {
		t.Fatalf("expected byte formatting: %q", content)
	}
}

func TestConsoleInfoTruncatesFields(t *testing.T) {
	path, logger := newFileLogger(t, "console", "info")
	args := make([]any, 0, 10)
	for i := 0; i < 10; i++ {
		args = append(args, logging.Int("field"+string(rune('a'+i)), i))
	}
	logger.Info("many fields", args...)

	if content := readLog(t, path); !strings.Contains(content, "+ 2 more fields hidden") {
		t.Fatalf("expected truncation notice, got %q", content)
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	path, logger := newFileLogger(t, "json", "info")
	ctx := services.WithItem(context.Background(), "dog.jpg")
	ctx = services.WithStage(ctx, "transfer")
	ctx = services.WithBatchID(ctx, "batch-1")
	ctx = services.WithRequestID(ctx, "req-9")
	logging.WithContext(ctx, logger).Info("context fields")

	line := strings.TrimSpace(readLog(t, path))
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("decode json log %q: %v", line, err)
	}
	want := map[string]string{
		"item":           "dog.jpg",
		"stage":          "transfer",
		"batch_id":       "batch-1",
		"correlation_id": "req-9",
		"level":          "info",
		"msg":            "context fields",
	}
	for key, value := range want {
		if payload[key] != value {
			t.Fatalf("expected %s=%q, got %v", key, value, payload[key])
		}
	}
	if _, err := time.Parse(time.RFC3339, payload["ts"].(string)); err != nil {
		t.Fatalf("expected RFC3339 ts, got %v", payload["ts"])
	}
}

func TestWarnWithContextFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "cleanup failed", "cleanup_failed",
		logging.String(logging.FieldImpact, "file remains"),
	)

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload[logging.FieldEventType] != "cleanup_failed" {
		t.Fatalf("event_type = %v", payload[logging.FieldEventType])
	}
	if payload[logging.FieldImpact] != "file remains" {
		t.Fatalf("impact should not be overwritten, got %v", payload[logging.FieldImpact])
	}
	if payload[logging.FieldErrorHint] == nil {
		t.Fatal("expected default error_hint")
	}
}

func TestNewComponentLoggerNilBase(t *testing.T) {
	logger := logging.NewComponentLogger(nil, "test")
	if logger == nil {
		t.Fatal("expected logger")
	}
	logger.Info("discarded")
}
