package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagepipe/internal/api"
	"imagepipe/internal/history"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/progress"
	"imagepipe/internal/services"
	"imagepipe/internal/stage"
	"imagepipe/internal/testsupport"
)

func TestUploadCommandPrintsOutcomes(t *testing.T) {
	runner := &fakeRunner{result: pipeline.BatchResult{
		ID: "b-1",
		Items: []pipeline.ItemResult{
			{Name: "cat.png", Stage: stage.StatusTransferred, RemotePath: "/remote/path/cat.png", Duration: 1500 * time.Millisecond},
			{Name: "dog.png", Stage: stage.StatusFailed, FailedStage: "enhance",
				Err: services.Wrap(services.ErrStageExecution, "enhance", "run", "enhancer exited 1", nil)},
		},
	}}
	env := setupCLITestEnv(t, runner)

	dir := t.TempDir()
	cat := filepath.Join(dir, "cat.png")
	dog := filepath.Join(dir, "dog.png")
	testsupport.WriteFile(t, cat, 512)
	testsupport.WriteFile(t, dog, 512)

	out, err := env.run(t, "upload", cat, dog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 images failed")
	assert.Contains(t, out, "Batch b-1")
	assert.Contains(t, out, "/remote/path/cat.png")
	assert.Contains(t, out, "enhance: ")
	assert.Contains(t, out, "1 succeeded, 1 failed")
	require.Len(t, runner.got, 2)
}

func TestUploadCommandJSON(t *testing.T) {
	runner := &fakeRunner{result: pipeline.BatchResult{
		ID:    "b-2",
		Items: []pipeline.ItemResult{{Name: "one.jpg", Stage: stage.StatusTransferred, RemotePath: "/remote/path/one.jpg"}},
	}}
	env := setupCLITestEnv(t, runner)
	file := filepath.Join(t.TempDir(), "one.jpg")
	testsupport.WriteFile(t, file, 64)

	out, err := env.run(t, "upload", "--json", file)
	require.NoError(t, err)

	var resp api.UploadResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "b-2", resp.BatchID)
	assert.Equal(t, 1, resp.Succeeded)
}

func TestUploadCommandRequiresArgs(t *testing.T) {
	env := setupCLITestEnv(t, &fakeRunner{})
	_, err := env.run(t, "upload")
	assert.Error(t, err)
}

func TestHistoryCommands(t *testing.T) {
	env := setupCLITestEnv(t, &fakeRunner{})

	out, err := env.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No batches recorded")

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, env.history.RecordBatch(context.Background(), pipeline.BatchResult{
		ID:         "hist-1",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Items: []pipeline.ItemResult{
			{Name: "a.png", Stage: stage.StatusTransferred, RemotePath: "/remote/path/a.png"},
		},
	}))

	out, err = env.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "hist-1")

	out, err = env.run(t, "history", "hist-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Batch hist-1")
	assert.Contains(t, out, "a.png")
	assert.Contains(t, out, "1 succeeded, 0 failed")

	out, err = env.run(t, "history", "--json")
	require.NoError(t, err)
	var batches []history.Batch
	require.NoError(t, json.Unmarshal([]byte(out), &batches))
	require.Len(t, batches, 1)

	_, err = env.run(t, "history", "missing")
	assert.Error(t, err)
}

func TestStatusCommandFromDaemon(t *testing.T) {
	env := setupCLITestEnv(t, &fakeRunner{})

	out, err := env.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "== Daemon ==")
	assert.Contains(t, out, "running at "+env.server.URL)
	assert.Contains(t, out, "4242")
}

func TestStatusCommandFallsBackWhenDaemonDown(t *testing.T) {
	env := setupCLITestEnv(t, &fakeRunner{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	down := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	out, err := runCLI(t, "--config", env.configPath, "--server", down, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not reachable at "+down)
	assert.Contains(t, out, "== Preflight ==")
	assert.Contains(t, out, "Upload directory")
}

func TestClientCommandsReportDaemonDown(t *testing.T) {
	env := setupCLITestEnv(t, &fakeRunner{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	down := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = runCLI(t, "--config", env.configPath, "--server", down, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imagepipe serve")
}

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	out, err := runCLI(t, "config", "init", "--path", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote sample configuration to "+target)
	_, err = os.Stat(target)
	require.NoError(t, err)

	_, err = runCLI(t, "config", "init", "--path", target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = runCLI(t, "config", "init", "--path", target, "--overwrite")
	require.NoError(t, err)

	env := setupCLITestEnv(t, &fakeRunner{})
	out, err = runCLI(t, "--config", env.configPath, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Config path: "+env.configPath)
	assert.Contains(t, out, "Transfer destination is not configured")
	assert.Contains(t, out, "Configuration valid")
}

func TestWatchPrintsEvents(t *testing.T) {
	env := setupCLITestEnv(t, &fakeRunner{})

	client, err := newCommandContext(&env.server.URL, &env.configPath).client()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var buf bytes.Buffer
	printer := newProgressPrinter(&buf, false)
	printer.now = func() time.Time { return time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC) }

	connected := make(chan struct{})
	got := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- client.Events(ctx, func() { close(connected) }, func(evt progress.Event) {
			printer.Print(evt)
			close(got)
		})
	}()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never connected")
	}
	env.bus.Publish(progress.Event{FileName: "cat.png", Progress: 0.5, Operation: progress.OperationUpscale})
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Events: %v", err)
	}

	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "12:30:00 cat.png"), "unexpected line %q", line)
	assert.Contains(t, line, "upscale")
	assert.Contains(t, line, " 50.0%")
}

func TestProgressPrinterLiveMode(t *testing.T) {
	var buf bytes.Buffer
	printer := newProgressPrinter(&buf, true)
	printer.Print(progress.Event{FileName: "a.png", Progress: 0.2, Operation: progress.OperationUpscale})
	printer.Finish()
	assert.True(t, strings.HasPrefix(buf.String(), ansiClear))
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))

	buf.Reset()
	printer.Print(progress.Event{FileName: "a.png", Progress: 1, Operation: progress.OperationFTPUpload})
	printer.Finish()
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[..........]   0.0%", progressBar(-1, 10))
	assert.Equal(t, "[#####.....]  50.0%", progressBar(0.5, 10))
	assert.Equal(t, "[##########] 100.0%", progressBar(2, 10))
}

func TestTestNotifyCommand(t *testing.T) {
	env := setupCLITestEnv(t, &fakeRunner{})
	out, err := env.run(t, "test-notify")
	require.NoError(t, err)
	assert.Contains(t, out, "ntfy topic not configured")

	var hits atomic.Int32
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "imagepipe - Test", r.Header.Get("Title"))
	}))
	defer ntfy.Close()

	env.cfg.Notify.NtfyTopic = ntfy.URL
	writeTestConfig(t, env.configPath, env.cfg)
	out, err = env.run(t, "test-notify")
	require.NoError(t, err)
	assert.Contains(t, out, "Test notification sent to "+ntfy.URL)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLogsCommandPrintsTail(t *testing.T) {
	env := setupCLITestEnv(t, &fakeRunner{})

	out, err := env.run(t, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "No log entries")

	path := filepath.Join(env.cfg.Paths.LogDir, "imagepipe.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))
	out, err = env.run(t, "logs", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, "two\nthree\n", out)
}
