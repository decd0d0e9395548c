package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"imagepipe/internal/config"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/services"
	"imagepipe/internal/stage"
)

// DatabaseName is the ledger file created inside the log directory.
const DatabaseName = "history.db"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	defaultListLimit        = 20
	timeLayout              = "2006-01-02T15:04:05.000000000Z07:00"
)

// Batch is a stored batch summary.
type Batch struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Items      []Item    `json:"items,omitempty"`
}

// Item is a stored item outcome.
type Item struct {
	Position     int          `json:"position"`
	FileName     string       `json:"fileName"`
	Status       stage.Status `json:"status"`
	RemotePath   string       `json:"remotePath,omitempty"`
	FailedStage  string       `json:"failedStage,omitempty"`
	ErrorKind    string       `json:"errorKind,omitempty"`
	ErrorMessage string       `json:"error,omitempty"`
	DurationMs   int64        `json:"durationMs"`
}

// Store manages the batch ledger backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, DatabaseName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// RecordBatch stores a finished batch and its items in one transaction.
func (s *Store) RecordBatch(ctx context.Context, batch pipeline.BatchResult) error {
	if strings.TrimSpace(batch.ID) == "" {
		return errors.New("batch id is required")
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin batch tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batches (id, started_at, finished_at, succeeded, failed) VALUES (?, ?, ?, ?, ?)`,
			batch.ID,
			batch.StartedAt.UTC().Format(timeLayout),
			batch.FinishedAt.UTC().Format(timeLayout),
			batch.Succeeded(),
			batch.Failed(),
		); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}

		for i, item := range batch.Items {
			var message string
			if item.Err != nil {
				message = item.Err.Error()
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO batch_items (batch_id, position, file_name, status, remote_path, failed_stage, error_kind, error_message, duration_ms)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				batch.ID, i, item.Name, string(item.Stage),
				nullableString(item.RemotePath), nullableString(item.FailedStage),
				nullableString(services.Kind(item.Err)), nullableString(message),
				item.Duration.Milliseconds(),
			); err != nil {
				return fmt.Errorf("insert batch item %d: %w", i, err)
			}
		}
		return tx.Commit()
	})
}

// ListBatches returns the most recent batches without their items.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, succeeded, failed FROM batches ORDER BY started_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// GetBatch returns one batch with its items. A missing batch yields an error
// marked services.ErrNotFound.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, succeeded, failed FROM batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "history", "get", "batch "+id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT position, file_name, status, remote_path, failed_stage, error_kind, error_message, duration_ms
         FROM batch_items WHERE batch_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("list batch items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			item   Item
			status string
		)
		var remote, failedStage, errorKind, errorMessage sql.NullString
		if err := rows.Scan(&item.Position, &item.FileName, &status, &remote, &failedStage, &errorKind, &errorMessage, &item.DurationMs); err != nil {
			return nil, fmt.Errorf("scan batch item: %w", err)
		}
		item.Status = stage.Status(status)
		item.RemotePath = remote.String
		item.FailedStage = failedStage.String
		item.ErrorKind = errorKind.String
		item.ErrorMessage = errorMessage.String
		batch.Items = append(batch.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &batch, nil
}

// Prune deletes batches that started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE started_at < ?`, cutoff.UTC().Format(timeLayout))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune batches: %w", err)
	}
	return removed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (Batch, error) {
	var (
		batch             Batch
		started, finished string
	)
	if err := row.Scan(&batch.ID, &started, &finished, &batch.Succeeded, &batch.Failed); err != nil {
		return Batch{}, err
	}
	var err error
	if batch.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Batch{}, fmt.Errorf("parse started_at: %w", err)
	}
	if batch.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return Batch{}, fmt.Errorf("parse finished_at: %w", err)
	}
	return batch, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
