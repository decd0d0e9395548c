package apiclient_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagepipe/internal/api"
	"imagepipe/internal/apiclient"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/progress"
	"imagepipe/internal/stage"
	"imagepipe/internal/testsupport"
)

type echoRunner struct {
	got []pipeline.Item
}

func (r *echoRunner) ProcessBatch(_ context.Context, items []pipeline.Item) (pipeline.BatchResult, error) {
	r.got = items
	result := pipeline.BatchResult{ID: "batch-42"}
	for _, item := range items {
		result.Items = append(result.Items, pipeline.ItemResult{
			Name:       item.Name,
			Stage:      stage.StatusTransferred,
			RemotePath: "/remote/path/" + item.Name,
		})
	}
	return result, nil
}

func newServer(t *testing.T, runner api.Runner, bus *progress.Bus, opts ...testsupport.ConfigOption) (*httptest.Server, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	require.NoError(t, cfg.EnsureDirectories())
	srv := httptest.NewServer(api.NewServer(api.Deps{Config: cfg, Runner: runner, Bus: bus}).Router())
	t.Cleanup(srv.Close)
	return srv, cfg.Paths.APIToken
}

func TestUploadRoundTrip(t *testing.T) {
	runner := &echoRunner{}
	srv, token := newServer(t, runner, progress.NewBus(4), testsupport.WithAPIToken("tok"))
	client := apiclient.New(srv.URL, token)

	dir := t.TempDir()
	first := filepath.Join(dir, "first.png")
	second := filepath.Join(dir, "second.jpg")
	testsupport.WriteFile(t, first, 70_000)
	testsupport.WriteFile(t, second, 10)

	resp, err := client.Upload(context.Background(), []string{first, second})
	require.NoError(t, err)
	assert.Equal(t, "batch-42", resp.BatchID)
	assert.Equal(t, 2, resp.Succeeded)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "first.png", resp.Results[0].FileName)
	assert.Equal(t, "/remote/path/second.jpg", resp.Results[1].RemotePath)

	require.Len(t, runner.got, 2)
	data, err := os.ReadFile(runner.got[0].SourcePath)
	require.NoError(t, err)
	assert.Equal(t, testsupport.Pattern(70_000), data)
}

func TestUploadRejectsMissingFiles(t *testing.T) {
	client := apiclient.New("http://127.0.0.1:1", "")
	_, err := client.Upload(context.Background(), nil)
	assert.Error(t, err)
	_, err = client.Upload(context.Background(), []string{filepath.Join(t.TempDir(), "missing.png")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAPIErrorsAreDecoded(t *testing.T) {
	srv, _ := newServer(t, &echoRunner{}, progress.NewBus(4), testsupport.WithAPIToken("tok"))

	_, err := apiclient.New(srv.URL, "wrong").Status(context.Background())
	var apiErr *apiclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Message)

	_, err = apiclient.New(srv.URL, "tok").Batch(context.Background(), "nope")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestEventsDeliversProgress(t *testing.T) {
	bus := progress.NewBus(4)
	srv, _ := newServer(t, &echoRunner{}, bus)
	client := apiclient.New(srv.URL, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connected := make(chan struct{})
	received := make(chan progress.Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- client.Events(ctx, func() { close(connected) }, func(evt progress.Event) {
			received <- evt
		})
	}()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never connected")
	}
	bus.Publish(progress.Event{FileName: "photo.jpg", Progress: 0.75, Operation: progress.OperationFTPUpload})

	select {
	case evt := <-received:
		assert.Equal(t, "photo.jpg", evt.FileName)
		assert.Equal(t, 0.75, evt.Progress)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected stream error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestIsUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	err = apiclient.New("http://"+addr, "").Health(context.Background())
	require.Error(t, err)
	assert.True(t, apiclient.IsUnavailable(err), "expected connection refused, got %v", err)
}

func TestFromConfigPrefersServerOverride(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("tok"))
	cfg.Paths.APIBind = "0.0.0.0:3000"
	assert.Equal(t, "http://127.0.0.1:3000", apiclient.FromConfig(cfg, "").BaseURL())
	assert.Equal(t, "http://example.test:9000", apiclient.FromConfig(cfg, "http://example.test:9000/").BaseURL())
}
