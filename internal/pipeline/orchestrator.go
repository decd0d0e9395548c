package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"imagepipe/internal/artifacts"
	"imagepipe/internal/config"
	"imagepipe/internal/logging"
	"imagepipe/internal/progress"
	"imagepipe/internal/services"
	"imagepipe/internal/stage"
)

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder stores every finished batch.
func WithRecorder(rec Recorder) Option {
	return func(o *Orchestrator) { o.recorder = rec }
}

// WithNotifier announces every finished batch.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithConcurrency bounds how many items of a batch run at once. Zero or less
// runs every item concurrently.
func WithConcurrency(limit int) Option {
	return func(o *Orchestrator) { o.limit = limit }
}

// WithSplit overrides the progress split.
func WithSplit(split Split) Option {
	return func(o *Orchestrator) { o.split = split }
}

// WithTrackerOptions configures the per-item artifact trackers.
func WithTrackerOptions(opts ...artifacts.Option) Option {
	return func(o *Orchestrator) { o.trackerOpts = append(o.trackerOpts, opts...) }
}

// Orchestrator runs batches.
type Orchestrator struct {
	enhancer    Enhancer
	transferer  Transferer
	publisher   progress.Publisher
	recorder    Recorder
	notifier    Notifier
	split       Split
	limit       int
	trackerOpts []artifacts.Option
	logger      *slog.Logger
}

// New constructs an orchestrator around the stage adapters.
func New(enh Enhancer, tr Transferer, pub progress.Publisher, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		enhancer:   enh,
		transferer: tr,
		publisher:  pub,
		split:      DefaultSplit(),
		logger:     logging.NewComponentLogger(logger, "pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewFromConfig applies pipeline settings from configuration.
func NewFromConfig(cfg *config.Config, enh Enhancer, tr Transferer, pub progress.Publisher, logger *slog.Logger, opts ...Option) *Orchestrator {
	base := []Option{WithSplit(SplitFromConfig(cfg))}
	if cfg != nil {
		base = append(base, WithConcurrency(cfg.Pipeline.MaxConcurrentItems))
	}
	return New(enh, tr, pub, logger, append(base, opts...)...)
}

// ProcessBatch runs every item and waits for all of them. The only error it
// returns is an input error for an empty batch; item failures are reported in
// the result.
func (o *Orchestrator) ProcessBatch(ctx context.Context, items []Item) (BatchResult, error) {
	if len(items) == 0 {
		return BatchResult{}, services.Wrap(services.ErrInput, "", "validate", "batch contains no items", nil)
	}

	items = uniqueNames(items)
	batch := BatchResult{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Items:     make([]ItemResult, len(items)),
	}
	ctx = services.WithBatchID(ctx, batch.ID)
	logger := logging.WithContext(ctx, o.logger)
	logger.Info("batch started",
		logging.Int("items", len(items)),
		logging.String(logging.FieldEventType, "batch_start"),
	)

	var g errgroup.Group
	if o.limit > 0 {
		g.SetLimit(o.limit)
	}
	for i, item := range items {
		g.Go(func() error {
			batch.Items[i] = o.runItem(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	batch.FinishedAt = time.Now().UTC()
	logger.Info("batch finished",
		logging.Int("succeeded", batch.Succeeded()),
		logging.Int("failed", batch.Failed()),
		logging.Duration("batch_duration", batch.FinishedAt.Sub(batch.StartedAt)),
		logging.String(logging.FieldEventType, "batch_complete"),
	)

	if o.recorder != nil {
		if err := o.recorder.RecordBatch(context.WithoutCancel(ctx), batch); err != nil {
			logging.WarnWithContext(logger, "batch history write failed", "history_write_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the history database under log_dir"),
				logging.String(logging.FieldImpact, "batch is missing from history"),
			)
		}
	}
	if o.notifier != nil {
		if err := o.notifier.NotifyBatchCompleted(context.WithoutCancel(ctx), batch); err != nil {
			logging.WarnWithContext(logger, "batch notification failed", "notification_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "batch outcome was not announced"),
			)
		}
	}
	return batch, nil
}

// uniqueNames returns a copy of items in which repeated display names carry a
// numeric suffix, so no two items share a remote path or progress key.
func uniqueNames(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	taken := make(map[string]bool, len(out))
	for _, item := range out {
		taken[item.Name] = true
	}
	used := make(map[string]bool, len(out))
	for i, item := range out {
		if strings.TrimSpace(item.Name) == "" {
			continue
		}
		if !used[item.Name] {
			used[item.Name] = true
			continue
		}
		ext := path.Ext(item.Name)
		stem := strings.TrimSuffix(item.Name, ext)
		for n := 2; ; n++ {
			candidate := stem + "-" + strconv.Itoa(n) + ext
			if !taken[candidate] && !used[candidate] {
				out[i].Name = candidate
				used[candidate] = true
				break
			}
		}
	}
	return out
}

// runItem converts a panic in the item task into an item failure.
func (o *Orchestrator) runItem(ctx context.Context, item Item) (result ItemResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := services.Wrap(services.ErrStageExecution, "", "run", fmt.Sprintf("panic: %v", r), nil)
			logging.ErrorWithContext(logging.WithContext(services.WithItem(ctx, item.Name), o.logger),
				"item task panicked", "item_panic",
				logging.Any("panic", r),
				logging.String("stack_trace", string(debug.Stack())),
			)
			result = ItemResult{Name: item.Name, Stage: stage.StatusFailed, Err: err, Duration: time.Since(start)}
		}
	}()
	result = o.processItem(ctx, item)
	result.Duration = time.Since(start)
	return result
}

func (o *Orchestrator) processItem(ctx context.Context, item Item) ItemResult {
	ctx = services.WithItem(ctx, item.Name)
	tracker := artifacts.New(logging.WithContext(ctx, o.logger), o.trackerOpts...)
	defer tracker.Release()
	tracker.Add(item.SourcePath)

	result := ItemResult{Name: item.Name, Stage: stage.StatusReceived}
	if strings.TrimSpace(item.Name) == "" || strings.TrimSpace(item.SourcePath) == "" {
		return failed(result, "", services.Wrap(services.ErrInput, "", "validate", "item name and source path required", nil))
	}
	reporter := progress.NewReporter(o.publisher, item.Name)

	result.Stage = stage.StatusEnhancing
	reporter.Report(progress.OperationUpscale, 0, 0)
	var intermediate string
	err := o.runStage(ctx, stage.Enhance, func(stageCtx context.Context) error {
		out, err := o.enhancer.Enhance(stageCtx, item.SourcePath)
		intermediate = out
		return err
	})
	tracker.Add(intermediate)
	if err != nil {
		return failed(result, stage.Enhance, err)
	}
	result.IntermediatePath = intermediate
	result.Stage = stage.StatusEnhanced
	reporter.Report(progress.OperationUpscale, o.split.EnhanceDone, 1)

	result.Stage = stage.StatusTransferring
	reporter.Report(progress.OperationFTPUpload, o.split.TransferStart, 0)
	err = o.runStage(ctx, stage.Transfer, func(stageCtx context.Context) error {
		return o.transferer.Transfer(stageCtx, intermediate, item.Name, func(transferred, total int64) {
			fraction := 1.0
			if total > 0 {
				fraction = float64(transferred) / float64(total)
			}
			reporter.Report(progress.OperationFTPUpload, o.split.TransferProgress(fraction), fraction)
		})
	})
	if err != nil {
		return failed(result, stage.Transfer, err)
	}
	result.RemotePath = o.transferer.RemotePath(item.Name)
	result.Stage = stage.StatusTransferred
	if last, _ := reporter.Last(); last < 1 {
		reporter.Report(progress.OperationFTPUpload, 1, 1)
	}
	return result
}

func failed(result ItemResult, stageName string, err error) ItemResult {
	result.Stage = stage.StatusFailed
	result.FailedStage = stageName
	result.Err = err
	return result
}

func (o *Orchestrator) runStage(ctx context.Context, name string, fn func(context.Context) error) error {
	stageCtx := services.WithStage(ctx, name)
	logger := logging.WithContext(stageCtx, o.logger)
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	start := time.Now()
	err := fn(stageCtx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("error_kind", services.Kind(err)),
			logging.Duration("stage_duration", elapsed),
			logging.Error(err),
		)
		return err
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", elapsed),
	)
	return nil
}
