package history_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"imagepipe/internal/history"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/services"
	"imagepipe/internal/stage"
	"imagepipe/internal/testsupport"
)

func sampleBatch(id string, started time.Time) pipeline.BatchResult {
	return pipeline.BatchResult{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Items: []pipeline.ItemResult{
			{Name: "a.png", Stage: stage.StatusTransferred, RemotePath: "/remote/path/a.png", Duration: 1500 * time.Millisecond},
			{
				Name:        "b.png",
				Stage:       stage.StatusFailed,
				FailedStage: stage.Transfer,
				Err:         services.Wrap(services.ErrTransfer, stage.Transfer, "write", "connection lost", nil),
				Duration:    700 * time.Millisecond,
			},
		},
	}
}

func TestRecordAndGetBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.RecordBatch(ctx, sampleBatch("batch-1", started)); err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}

	batch, err := store.GetBatch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if batch.Succeeded != 1 || batch.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", batch)
	}
	if !batch.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v, want %v", batch.StartedAt, started)
	}
	if len(batch.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(batch.Items))
	}
	ok, failed := batch.Items[0], batch.Items[1]
	if ok.FileName != "a.png" || ok.Status != stage.StatusTransferred || ok.RemotePath != "/remote/path/a.png" || ok.DurationMs != 1500 {
		t.Fatalf("unexpected success item: %+v", ok)
	}
	if failed.ErrorKind != "transfer" || failed.FailedStage != stage.Transfer || failed.ErrorMessage == "" {
		t.Fatalf("unexpected failed item: %+v", failed)
	}
}

func TestGetBatchMissingIsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)

	_, err := store.GetBatch(context.Background(), "nope")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListBatchesNewestFirstWithLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		if err := store.RecordBatch(ctx, sampleBatch(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("RecordBatch %s failed: %v", id, err)
		}
	}

	batches, err := store.ListBatches(ctx, 2)
	if err != nil {
		t.Fatalf("ListBatches failed: %v", err)
	}
	if len(batches) != 2 || batches[0].ID != "new" || batches[1].ID != "mid" {
		t.Fatalf("unexpected listing: %+v", batches)
	}
	if len(batches[0].Items) != 0 {
		t.Fatal("listing should not include items")
	}
}

func TestPruneRemovesOldBatchesAndItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := store.RecordBatch(ctx, sampleBatch("stale", now.Add(-72*time.Hour))); err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}
	if err := store.RecordBatch(ctx, sampleBatch("fresh", now)); err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}

	removed, err := store.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned batch, got %d", removed)
	}
	if _, err := store.GetBatch(ctx, "stale"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected stale batch gone, got %v", err)
	}
	if _, err := store.GetBatch(ctx, "fresh"); err != nil {
		t.Fatalf("expected fresh batch kept: %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.RecordBatch(context.Background(), sampleBatch("persist", time.Now())); err != nil {
		t.Fatalf("RecordBatch failed: %v", err)
	}
	_ = store.Close()

	reopened := testsupport.MustOpenHistory(t, cfg)
	if _, err := reopened.GetBatch(context.Background(), "persist"); err != nil {
		t.Fatalf("expected batch after reopen: %v", err)
	}
}
