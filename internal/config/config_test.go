package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"imagepipe/internal/config"
)

func clearTransferEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"SFTP_HOST", "SFTP_PORT", "SFTP_USERNAME", "SFTP_PASSWORD", "ESRGAN_MODEL_FILE_PATH", "IMAGEPIPE_API_TOKEN", "IMAGEPIPE_NTFY_TOPIC"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearTransferEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantUploads := filepath.Join(tempHome, ".local", "share", "imagepipe", "uploads")
	if cfg.Paths.UploadDir != wantUploads {
		t.Fatalf("unexpected upload dir: got %q want %q", cfg.Paths.UploadDir, wantUploads)
	}
	if cfg.Paths.APIBind != "127.0.0.1:3000" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Enhancer.Tile != 256 {
		t.Fatalf("expected default tile 256, got %d", cfg.Enhancer.Tile)
	}
	if cfg.Transfer.ChunkSize != 32768 || cfg.Transfer.Concurrency != 64 {
		t.Fatalf("unexpected transfer defaults: chunk=%d concurrency=%d", cfg.Transfer.ChunkSize, cfg.Transfer.Concurrency)
	}
	if cfg.Transfer.RemoteDir != "/remote/path" {
		t.Fatalf("unexpected remote dir: %q", cfg.Transfer.RemoteDir)
	}
	if cfg.Pipeline.EnhanceDone != 0.1 || cfg.Pipeline.TransferStart != 0.5 {
		t.Fatalf("unexpected progress split: %v/%v", cfg.Pipeline.EnhanceDone, cfg.Pipeline.TransferStart)
	}
	if len(cfg.Paths.CORSOrigins) != 1 || cfg.Paths.CORSOrigins[0] != "*" {
		t.Fatalf("expected every origin allowed by default, got %v", cfg.Paths.CORSOrigins)
	}
	if cfg.KeepAlive().Seconds() != 15 {
		t.Fatalf("unexpected keepalive: %v", cfg.KeepAlive())
	}
	if cfg.TransferConfigured() {
		t.Fatal("expected transfer to be unconfigured by default")
	}
	if cfg.Captioner.Enabled || cfg.Inbox.Enabled {
		t.Fatal("expected optional features disabled by default")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.Paths.UploadDir, cfg.Paths.OutputDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearTransferEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "imagepipe.toml")

	type payload struct {
		Transfer struct {
			Host      string `toml:"host"`
			Username  string `toml:"username"`
			RemoteDir string `toml:"remote_dir"`
		} `toml:"transfer"`
		Pipeline struct {
			MaxConcurrentItems int     `toml:"max_concurrent_items"`
			EnhanceDone        float64 `toml:"enhance_done"`
			TransferStart      float64 `toml:"transfer_start"`
		} `toml:"pipeline"`
	}
	custom := payload{}
	custom.Transfer.Host = "sftp.example.com"
	custom.Transfer.Username = "uploader"
	custom.Transfer.RemoteDir = "/srv/images"
	custom.Pipeline.MaxConcurrentItems = 4
	custom.Pipeline.EnhanceDone = 0.2
	custom.Pipeline.TransferStart = 0.4
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if !cfg.TransferConfigured() || cfg.Transfer.Host != "sftp.example.com" {
		t.Fatalf("expected transfer host from file, got %q", cfg.Transfer.Host)
	}
	if cfg.Transfer.Port != 22 {
		t.Fatalf("expected default port to survive partial file, got %d", cfg.Transfer.Port)
	}
	if cfg.Transfer.RemoteDir != "/srv/images" {
		t.Fatalf("unexpected remote dir: %q", cfg.Transfer.RemoteDir)
	}
	if cfg.Pipeline.MaxConcurrentItems != 4 {
		t.Fatalf("expected max concurrent items 4, got %d", cfg.Pipeline.MaxConcurrentItems)
	}
	if cfg.Pipeline.EnhanceDone != 0.2 || cfg.Pipeline.TransferStart != 0.4 {
		t.Fatalf("unexpected progress split: %v/%v", cfg.Pipeline.EnhanceDone, cfg.Pipeline.TransferStart)
	}
}

func TestEnvFallbacksFillTransferCredentials(t *testing.T) {
	clearTransferEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SFTP_HOST", "files.internal")
	t.Setenv("SFTP_PORT", "2222")
	t.Setenv("SFTP_USERNAME", "env-user")
	t.Setenv("SFTP_PASSWORD", "env-pass")
	t.Setenv("ESRGAN_MODEL_FILE_PATH", "/models/RealESRGAN_x4plus.pth")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Transfer.Host != "files.internal" || cfg.Transfer.Port != 2222 {
		t.Fatalf("unexpected endpoint: %s:%d", cfg.Transfer.Host, cfg.Transfer.Port)
	}
	if cfg.Transfer.Username != "env-user" || cfg.Transfer.Password != "env-pass" {
		t.Fatalf("unexpected credentials: %q/%q", cfg.Transfer.Username, cfg.Transfer.Password)
	}
	if cfg.Enhancer.ModelPath != "/models/RealESRGAN_x4plus.pth" {
		t.Fatalf("unexpected model path: %q", cfg.Enhancer.ModelPath)
	}
}

func TestNtfyTopicFromEnv(t *testing.T) {
	clearTransferEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("IMAGEPIPE_NTFY_TOPIC", " https://ntfy.example/pipe ")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notify.NtfyTopic != "https://ntfy.example/pipe" {
		t.Fatalf("unexpected topic: %q", cfg.Notify.NtfyTopic)
	}
	if cfg.NotifyTimeout().Seconds() != 10 {
		t.Fatalf("unexpected notify timeout: %v", cfg.NotifyTimeout())
	}
}

func TestCORSOriginsAreTrimmed(t *testing.T) {
	clearTransferEnv(t)
	configPath := filepath.Join(t.TempDir(), "imagepipe.toml")
	data := []byte("[paths]\ncors_origins = [\" http://localhost:19000/ \", \"\"]\n")
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Paths.CORSOrigins) != 1 || cfg.Paths.CORSOrigins[0] != "http://localhost:19000" {
		t.Fatalf("unexpected origins: %v", cfg.Paths.CORSOrigins)
	}
}

func TestInvalidPortFromEnvIsRejected(t *testing.T) {
	clearTransferEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SFTP_PORT", "twenty-two")

	if _, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for invalid SFTP_PORT")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "SFTP_HOST") {
		t.Fatalf("sample config missing env hints: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.UploadDir, "imagepipe") {
		t.Fatalf("expected upload dir to contain imagepipe, got %q", cfg.Paths.UploadDir)
	}
	if cfg.Transfer.ChunkSize != 32768 {
		t.Fatalf("expected sample chunk size 32768, got %d", cfg.Transfer.ChunkSize)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.EnhanceDone = 0.6
	cfg.Pipeline.TransferStart = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when enhance_done exceeds transfer_start")
	}

	cfg = config.Default()
	cfg.Pipeline.TransferStart = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for transfer_start above 1")
	}

	cfg = config.Default()
	cfg.Transfer.ChunkSize = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for tiny chunk size")
	}

	cfg = config.Default()
	cfg.Transfer.Concurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero concurrency")
	}

	cfg = config.Default()
	cfg.Transfer.KeepAliveSeconds = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative keepalive")
	}

	cfg = config.Default()
	cfg.Transfer.RemoteDir = "relative/dir"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for relative remote dir")
	}

	cfg = config.Default()
	cfg.Transfer.Host = "example.com"
	cfg.Transfer.Username = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when host set without username")
	}

	cfg = config.Default()
	cfg.Paths.APIBind = "not-an-address"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for malformed api bind")
	}

	cfg = config.Default()
	cfg.Notify.NtfyTopic = "ntfy.sh/topic"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for ntfy topic without scheme")
	}

	cfg = config.Default()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log format")
	}

	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestServerURL(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.APIBind = "0.0.0.0:8080"
	if got := cfg.ServerURL(); got != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected server url: %q", got)
	}
	cfg.Paths.APIBind = ":9000"
	if got := cfg.ServerURL(); got != "http://127.0.0.1:9000" {
		t.Fatalf("unexpected server url: %q", got)
	}
}
