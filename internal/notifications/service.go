package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imagepipe/internal/config"
	"imagepipe/internal/pipeline"
)

const (
	userAgent = "imagepipe/0.1"
	// maxListedFailures caps the file names included in a failure summary.
	maxListedFailures = 5
)

// Service delivers notifications about pipeline activity.
type Service interface {
	NotifyBatchCompleted(ctx context.Context, batch pipeline.BatchResult) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notify.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		onlyFailures: cfg.Notify.OnlyFailures,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	onlyFailures bool
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, batch pipeline.BatchResult) error {
	failed := batch.Failed()
	if failed == 0 && n.onlyFailures {
		return nil
	}
	return n.send(ctx, batchPayload(batch))
}

func batchPayload(batch pipeline.BatchResult) payload {
	succeeded, failed := batch.Succeeded(), batch.Failed()
	elapsed := batch.FinishedAt.Sub(batch.StartedAt).Round(time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	if failed == 0 {
		noun := "images"
		if succeeded == 1 {
			noun = "image"
		}
		return payload{
			title:   "imagepipe - Batch Complete",
			message: fmt.Sprintf("%d %s enhanced and delivered in %s", succeeded, noun, elapsed),
			tags:    []string{"imagepipe", "batch", "completed"},
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d succeeded, %d failed in %s", succeeded, failed, elapsed)
	listed := 0
	for _, item := range batch.Items {
		if item.Succeeded() {
			continue
		}
		if listed == maxListedFailures {
			fmt.Fprintf(&b, "\n... and %d more", failed-listed)
			break
		}
		b.WriteString("\n")
		b.WriteString(item.Name)
		if item.FailedStage != "" {
			b.WriteString(" (" + item.FailedStage + ")")
		}
		listed++
	}
	return payload{
		title:    "imagepipe - Batch Complete (with errors)",
		message:  b.String(),
		tags:     []string{"imagepipe", "batch", "failed"},
		priority: "high",
	}
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "imagepipe - Test",
		message:  "Notification system test",
		tags:     []string{"imagepipe", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyBatchCompleted(context.Context, pipeline.BatchResult) error { return nil }
func (noopService) TestNotification(context.Context) error                           { return nil }
