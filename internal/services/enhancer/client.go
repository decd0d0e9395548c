package enhancer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"imagepipe/internal/config"
	"imagepipe/internal/logging"
	"imagepipe/internal/services"
	"imagepipe/internal/stage"
)

const outputTailLines = 20

// Enhancer defines the behaviour the pipeline needs from the enhance stage.
type Enhancer interface {
	Enhance(ctx context.Context, sourcePath string) (string, error)
}

// Settings describes how to invoke the enhancement program.
type Settings struct {
	Binary    string
	Script    string
	WorkDir   string
	ModelPath string
	Tile      int
	Timeout   time.Duration
	OutputDir string
}

// SettingsFromConfig extracts enhancer settings from application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	if cfg == nil {
		return Settings{}
	}
	return Settings{
		Binary:    cfg.Enhancer.Binary,
		Script:    cfg.Enhancer.Script,
		WorkDir:   cfg.Enhancer.WorkDir,
		ModelPath: cfg.Enhancer.ModelPath,
		Tile:      cfg.Enhancer.Tile,
		Timeout:   cfg.EnhancerTimeout(),
		OutputDir: cfg.Paths.OutputDir,
	}
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger attaches a logger for command diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client runs the enhancement CLI for one image at a time.
type Client struct {
	settings Settings
	exec     Executor
	logger   *slog.Logger
}

// New constructs an enhancer client.
func New(settings Settings, opts ...Option) (*Client, error) {
	settings.Binary = strings.TrimSpace(settings.Binary)
	if settings.Binary == "" {
		return nil, errors.New("enhancer binary required")
	}
	if strings.TrimSpace(settings.OutputDir) == "" {
		return nil, errors.New("enhancer output directory required")
	}
	client := &Client{
		settings: settings,
		exec:     commandExecutor{},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "enhancer")
	return client, nil
}

// OutputPath returns where the enhancer writes the result for src: the source
// basename with an _out suffix before the extension, inside dir.
func OutputPath(src, dir string) string {
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, stem+"_out"+ext)
}

// Args builds the command-line arguments for sourcePath.
func (c *Client) Args(sourcePath string) []string {
	args := make([]string, 0, 9)
	if script := strings.TrimSpace(c.settings.Script); script != "" {
		args = append(args, script)
	}
	args = append(args, "--input", sourcePath, "--output", c.settings.OutputDir)
	if model := strings.TrimSpace(c.settings.ModelPath); model != "" {
		args = append(args, "--model_path", model)
	}
	if c.settings.Tile > 0 {
		args = append(args, "--tile", strconv.Itoa(c.settings.Tile))
	}
	return args
}

// Enhance runs the program against sourcePath and returns the output path.
func (c *Client) Enhance(ctx context.Context, sourcePath string) (string, error) {
	if strings.TrimSpace(sourcePath) == "" {
		return "", services.Wrap(services.ErrInput, stage.Enhance, "validate", "source path required", nil)
	}
	if err := os.MkdirAll(c.settings.OutputDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrStageExecution, stage.Enhance, "prepare", "create output directory", err)
	}

	runCtx := ctx
	if c.settings.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.settings.Timeout)
		defer cancel()
	}

	output := newTail(outputTailLines)
	args := c.Args(sourcePath)
	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("enhancer command",
		logging.String("binary", c.settings.Binary),
		logging.String("args", strings.Join(args, " ")),
		logging.String(logging.FieldEventType, "enhancer_command"),
	)

	err := c.exec.Run(runCtx, c.settings.WorkDir, c.settings.Binary, args, output.add)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", services.ErrTimeout, c.settings.Timeout, err)
		}
		return "", services.Wrap(services.ErrStageExecution, stage.Enhance, "run", diagnostics(output.snapshot()), err)
	}

	outPath := OutputPath(sourcePath, c.settings.OutputDir)
	if _, statErr := os.Stat(outPath); statErr != nil {
		return "", services.Wrap(services.ErrStageExecution, stage.Enhance, "verify",
			"enhancer produced no output file "+outPath, statErr)
	}
	return outPath, nil
}

func diagnostics(lines []string) string {
	if len(lines) == 0 {
		return "enhancer failed with no output"
	}
	return "enhancer failed; last output: " + strings.Join(lines, " | ")
}

// HealthCheck reports whether the binary, script, and model are available.
func (c *Client) HealthCheck(context.Context) stage.Health {
	if _, err := exec.LookPath(c.settings.Binary); err != nil {
		return stage.Unhealthy(stage.Enhance, fmt.Sprintf("binary %q not found", c.settings.Binary))
	}
	for _, entry := range [][2]string{{"script", c.settings.Script}, {"model", c.settings.ModelPath}} {
		label, path := entry[0], strings.TrimSpace(entry[1])
		if path == "" {
			continue
		}
		check := path
		if !filepath.IsAbs(check) && c.settings.WorkDir != "" {
			check = filepath.Join(c.settings.WorkDir, check)
		}
		if _, err := os.Stat(check); err != nil {
			return stage.Unhealthy(stage.Enhance, fmt.Sprintf("%s %q not accessible", label, path))
		}
	}
	return stage.Healthy(stage.Enhance)
}
