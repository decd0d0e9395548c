package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"imagepipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.UploadDir = filepath.Join(base, "uploads")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Inbox.Dir = filepath.Join(base, "inbox")
	cfgVal.Transfer.Host = "sftp.test"
	cfgVal.Transfer.Username = "tester"
	cfgVal.Transfer.Password = "secret"
	cfgVal.Captioner.AnnotationsPath = filepath.Join(base, "annotations.json")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPIToken enables bearer-token auth on the test config.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithCORSOrigins replaces the allowed browser origins.
func WithCORSOrigins(origins ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.CORSOrigins = origins
	}
}

// WithCaptioner enables the caption search service.
func WithCaptioner() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Captioner.Enabled = true
		b.cfg.Captioner.Script = filepath.Join(b.baseDir, "run_search.py")
	}
}

// WithoutTransfer clears the SFTP host so transfer is reported as unconfigured.
func WithoutTransfer() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Transfer.Host = ""
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default imagepipe external
// binaries are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{b.cfg.Enhancer.Binary}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.UploadDir)
}
