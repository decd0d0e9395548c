package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"imagepipe/internal/api"
	"imagepipe/internal/config"
	"imagepipe/internal/history"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/progress"
	"imagepipe/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	server     *httptest.Server
	bus        *progress.Bus
	history    *history.Store
}

// setupCLITestEnv writes a config file and serves the API router from a fake
// pipeline backed by a real history store.
func setupCLITestEnv(t *testing.T, runner api.Runner) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithoutTransfer())
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	store := testsupport.MustOpenHistory(t, cfg)
	bus := progress.NewBus(cfg.Pipeline.SubscriberBuffer)
	srv := httptest.NewServer(api.NewServer(api.Deps{
		Config:  cfg,
		Runner:  runner,
		Bus:     bus,
		History: store,
		Status: func(context.Context) api.DaemonStatus {
			return api.DaemonStatus{Running: true, PID: 4242, Subscribers: bus.Count()}
		},
	}).Router())
	t.Cleanup(srv.Close)

	return &cliTestEnv{cfg: cfg, configPath: configPath, server: srv, bus: bus, history: store}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// run executes the CLI against the test server and returns stdout and the error.
func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", e.configPath, "--server", e.server.URL}, args...)...)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

type fakeRunner struct {
	result pipeline.BatchResult
	got    []pipeline.Item
}

func (f *fakeRunner) ProcessBatch(_ context.Context, items []pipeline.Item) (pipeline.BatchResult, error) {
	f.got = items
	return f.result, nil
}
