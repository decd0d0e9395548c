// Package captioner runs the caption search program and parses its ranked output.
package captioner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"imagepipe/internal/config"
	"imagepipe/internal/logging"
	"imagepipe/internal/services"
	"imagepipe/internal/stage"
)

// StageName identifies the caption service in health reports and errors.
const StageName = "caption"

const indexMarker = "index created!"

var resultLine = regexp.MustCompile(`^(.*?)\s*\(similarity:\s*([-+0-9.eE]+)\)\s*$`)

// Result is one ranked caption.
type Result struct {
	Caption    string  `json:"caption"`
	Similarity float64 `json:"similarity"`
}

// Params controls one search.
type Params struct {
	BatchSize int
	Samples   int
	Results   int
}

// DefaultParams returns the search parameters used when a request omits them.
func DefaultParams() Params {
	batch, samples, results := config.CaptionDefaults()
	return Params{BatchSize: batch, Samples: samples, Results: results}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.BatchSize <= 0 {
		p.BatchSize = def.BatchSize
	}
	if p.Samples <= 0 {
		p.Samples = def.Samples
	}
	if p.Results <= 0 {
		p.Results = def.Results
	}
	return p
}

// Executor runs the search program and returns its combined output.
type Executor interface {
	Output(ctx context.Context, dir, binary string, args []string) ([]byte, error)
}

type commandExecutor struct{}

func (commandExecutor) Output(ctx context.Context, dir, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Dir = dir
	return cmd.CombinedOutput()
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

// Client invokes the caption search program.
type Client struct {
	binary      string
	script      string
	annotations string
	timeout     time.Duration
	exec        Executor
	logger      *slog.Logger
}

// New constructs a client from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("captioner config required")
	}
	binary := strings.TrimSpace(cfg.Captioner.Binary)
	if binary == "" {
		return nil, errors.New("captioner binary required")
	}
	c := &Client{
		binary:      binary,
		script:      strings.TrimSpace(cfg.Captioner.Script),
		annotations: strings.TrimSpace(cfg.Captioner.AnnotationsPath),
		timeout:     cfg.CaptionerTimeout(),
		exec:        commandExecutor{},
		logger:      logging.NewComponentLogger(logger, "captioner"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Args builds the command-line arguments for one image.
func (c *Client) Args(imagePath string, params Params) []string {
	params = params.withDefaults()
	args := make([]string, 0, 9)
	if c.script != "" {
		args = append(args, c.script)
	}
	return append(args,
		imagePath,
		c.annotations,
		"--batch_size", strconv.Itoa(params.BatchSize),
		"--num_samples", strconv.Itoa(params.Samples),
		"--num_results", strconv.Itoa(params.Results),
	)
}

// Generate returns captions for imagePath in the order the program printed them.
func (c *Client) Generate(ctx context.Context, imagePath string, params Params) ([]Result, error) {
	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	dir := ""
	if c.script != "" {
		dir = filepath.Dir(c.script)
	}

	output, err := c.exec.Output(runCtx, dir, c.binary, c.Args(imagePath, params))
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", services.ErrTimeout, c.timeout, err)
		}
		return nil, services.Wrap(services.ErrStageExecution, StageName, "run", lastLine(output), err)
	}
	results, err := Parse(output)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("captions generated",
		logging.String("image", filepath.Base(imagePath)),
		logging.Int("count", len(results)),
		logging.String(logging.FieldEventType, "captions_generated"),
	)
	return results, nil
}

// Parse extracts results from program output. Only lines after the index
// marker are considered; lines that do not carry a similarity score are skipped.
func Parse(output []byte) ([]Result, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	started := false
	var results []Result
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !started {
			started = strings.Contains(line, indexMarker)
			continue
		}
		if line == "" {
			continue
		}
		match := resultLine.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		similarity, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			continue
		}
		caption := strings.TrimSuffix(strings.TrimSpace(match[1]), ".")
		results = append(results, Result{Caption: caption, Similarity: similarity})
	}
	if err := scanner.Err(); err != nil {
		return nil, services.Wrap(services.ErrStageExecution, StageName, "parse", "read output", err)
	}
	if !started {
		return nil, services.Wrap(services.ErrStageExecution, StageName, "parse", "index creation message not found", nil)
	}
	return results, nil
}

// SortBySimilarity orders results from most to least similar.
func SortBySimilarity(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return "caption search failed: " + last
	}
	return "caption search failed"
}

// HealthCheck reports whether the program and its inputs are present.
func (c *Client) HealthCheck(context.Context) stage.Health {
	if _, err := exec.LookPath(c.binary); err != nil {
		return stage.Unhealthy(StageName, fmt.Sprintf("binary %q not found", c.binary))
	}
	if c.script != "" {
		if _, err := os.Stat(c.script); err != nil {
			return stage.Unhealthy(StageName, fmt.Sprintf("script %q not accessible", c.script))
		}
	}
	if _, err := os.Stat(c.annotations); err != nil {
		return stage.Unhealthy(StageName, fmt.Sprintf("annotations %q not accessible", c.annotations))
	}
	return stage.Healthy(StageName)
}
