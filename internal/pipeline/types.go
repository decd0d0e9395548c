package pipeline

import (
	"context"
	"time"

	"imagepipe/internal/config"
	"imagepipe/internal/stage"
)

// Item is one uploaded image awaiting processing.
type Item struct {
	// Name is the display name used for progress events and the remote file name.
	Name string
	// SourcePath is the uploaded file on local disk.
	SourcePath string
}

// ItemResult is the final state of one item.
type ItemResult struct {
	Name             string
	Stage            stage.Status
	IntermediatePath string
	RemotePath       string
	// FailedStage names the stage that failed; empty on success.
	FailedStage string
	Err         error
	Duration    time.Duration
}

// Succeeded reports whether the item reached the remote store.
func (r ItemResult) Succeeded() bool {
	return r.Stage == stage.StatusTransferred && r.Err == nil
}

// BatchResult collects item outcomes in input order.
type BatchResult struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Items      []ItemResult
}

// Succeeded returns the number of items that completed every stage.
func (b BatchResult) Succeeded() int {
	n := 0
	for _, item := range b.Items {
		if item.Succeeded() {
			n++
		}
	}
	return n
}

// Failed returns the number of items that stopped with an error.
func (b BatchResult) Failed() int {
	return len(b.Items) - b.Succeeded()
}

// Enhancer produces an intermediate file from a source image.
type Enhancer interface {
	Enhance(ctx context.Context, sourcePath string) (string, error)
}

// Transferer delivers a local file to the remote store.
type Transferer interface {
	Transfer(ctx context.Context, localPath, remoteName string, onProgress func(transferred, total int64)) error
	RemotePath(remoteName string) string
}

// Recorder persists finished batches.
type Recorder interface {
	RecordBatch(ctx context.Context, batch BatchResult) error
}

// Notifier announces finished batches.
type Notifier interface {
	NotifyBatchCompleted(ctx context.Context, batch BatchResult) error
}

// Split positions each stage on the overall progress scale.
type Split struct {
	EnhanceDone   float64
	TransferStart float64
}

// SplitFromConfig reads the progress split from configuration.
func SplitFromConfig(cfg *config.Config) Split {
	if cfg == nil {
		return DefaultSplit()
	}
	return Split{EnhanceDone: cfg.Pipeline.EnhanceDone, TransferStart: cfg.Pipeline.TransferStart}
}

// DefaultSplit returns the standard calibration.
func DefaultSplit() Split {
	return Split{EnhanceDone: 0.1, TransferStart: 0.5}
}

// TransferProgress maps a transfer fraction onto the overall scale.
func (s Split) TransferProgress(fraction float64) float64 {
	return s.TransferStart + fraction*(1-s.TransferStart)
}
