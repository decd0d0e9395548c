package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	UploadDir   string `toml:"upload_dir"`
	OutputDir   string `toml:"output_dir"`
	LogDir      string `toml:"log_dir"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
	MaxUploadMB int    `toml:"max_upload_mb"`
	// CORSOrigins lists browser origins allowed to call the API. An empty
	// list disables CORS headers.
	CORSOrigins []string `toml:"cors_origins"`
}

// Enhancer configures the external resolution-enhancement program.
type Enhancer struct {
	Binary         string `toml:"binary"`
	Script         string `toml:"script"`
	WorkDir        string `toml:"work_dir"`
	ModelPath      string `toml:"model_path"`
	Tile           int    `toml:"tile"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Transfer configures the SFTP destination.
type Transfer struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	RemoteDir          string `toml:"remote_dir"`
	KnownHosts         string `toml:"known_hosts"`
	ChunkSize          int    `toml:"chunk_size"`
	Concurrency        int    `toml:"concurrency"`
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
	KeepAliveSeconds   int    `toml:"keepalive_seconds"`
}

// Pipeline configures batch orchestration and progress reporting.
type Pipeline struct {
	// MaxConcurrentItems bounds how many items of one batch run at once.
	// Zero runs every item concurrently.
	MaxConcurrentItems int `toml:"max_concurrent_items"`
	// EnhanceDone is the overall progress published once enhancement finishes.
	EnhanceDone float64 `toml:"enhance_done"`
	// TransferStart is the overall progress at which the transfer stage begins;
	// transfer progress is scaled into the range above it.
	TransferStart    float64 `toml:"transfer_start"`
	SubscriberBuffer int     `toml:"subscriber_buffer"`
}

// Captioner configures the optional caption search program.
type Captioner struct {
	Enabled         bool   `toml:"enabled"`
	Binary          string `toml:"binary"`
	Script          string `toml:"script"`
	AnnotationsPath string `toml:"annotations_path"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// Staging configures the sweeper that reclaims uploads left behind by a crash.
type Staging struct {
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
	MaxAgeHours          int `toml:"max_age_hours"`
}

// Inbox configures the drop folder watcher.
type Inbox struct {
	Enabled         bool   `toml:"enabled"`
	Dir             string `toml:"dir"`
	DebounceSeconds int    `toml:"debounce_seconds"`
}

// Notifications configures ntfy delivery of batch outcomes.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	OnlyFailures          bool   `toml:"only_failures"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for imagepipe.
//
// Configuration sections by subsystem:
//   - Paths: upload/output/log directories and the API bind address
//   - Enhancer: the resolution-enhancement CLI invocation
//   - Transfer: SFTP credentials and streaming parameters
//   - Pipeline: item concurrency and the progress split between stages
//   - Captioner: optional caption search CLI
//   - Staging: stale upload sweeping
//   - Inbox: drop folder intake
//   - Notifications: ntfy topic for batch summaries
//   - Logging: log format, level, and retention
type Config struct {
	Paths     Paths         `toml:"paths"`
	Enhancer  Enhancer      `toml:"enhancer"`
	Transfer  Transfer      `toml:"transfer"`
	Pipeline  Pipeline      `toml:"pipeline"`
	Captioner Captioner     `toml:"captioner"`
	Staging   Staging       `toml:"staging"`
	Inbox     Inbox         `toml:"inbox"`
	Notify    Notifications `toml:"notifications"`
	Logging   Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("imagepipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.UploadDir, c.Paths.OutputDir, c.Paths.LogDir}
	if c.Inbox.Enabled {
		dirs = append(dirs, c.Inbox.Dir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// EnhancerTimeout returns the per-invocation enhancer timeout.
func (c *Config) EnhancerTimeout() time.Duration {
	return time.Duration(c.Enhancer.TimeoutSeconds) * time.Second
}

// CaptionerTimeout returns the per-invocation captioner timeout.
func (c *Config) CaptionerTimeout() time.Duration {
	return time.Duration(c.Captioner.TimeoutSeconds) * time.Second
}

// NotifyTimeout bounds a single ntfy request.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.RequestTimeoutSeconds) * time.Second
}

// DialTimeout returns the SFTP connection timeout.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Transfer.DialTimeoutSeconds) * time.Second
}

// KeepAlive returns the SSH keepalive interval. Zero disables keepalives.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.Transfer.KeepAliveSeconds) * time.Second
}

// MaxUploadBytes returns the multipart body limit for upload requests.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Paths.MaxUploadMB) << 20
}

// TransferConfigured reports whether an SFTP destination has been set.
func (c *Config) TransferConfigured() bool {
	return strings.TrimSpace(c.Transfer.Host) != ""
}

// ServerURL returns the base URL clients use to reach the API.
func (c *Config) ServerURL() string {
	bind := strings.TrimSpace(c.Paths.APIBind)
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	if strings.HasPrefix(bind, "0.0.0.0:") {
		bind = "127.0.0.1" + strings.TrimPrefix(bind, "0.0.0.0")
	}
	return "http://" + bind
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
