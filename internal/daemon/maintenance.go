package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron"

	"imagepipe/internal/logging"
	"imagepipe/internal/staging"
)

// retentionInterval is how often log and history retention run.
const retentionInterval = 6

// MaintenanceResult summarizes one housekeeping pass.
type MaintenanceResult struct {
	StaleRemoved   int
	LogsRemoved    int
	BatchesPruned  int64
	StagingSkipped bool
}

// newScheduler registers the periodic housekeeping jobs. Jobs run once at
// start and then on their interval; SingletonModeAll keeps a slow pass from
// overlapping the next one.
func (d *Daemon) newScheduler(ctx context.Context) (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	if interval := d.cfg.Staging.SweepIntervalMinutes; interval > 0 {
		if _, err := s.Every(interval).Minutes().Do(func() {
			d.sweepStaging(ctx)
		}); err != nil {
			return nil, err
		}
	}
	if _, err := s.Every(retentionInterval).Hours().Do(func() {
		d.cleanupLogs()
		d.pruneHistory(ctx)
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// RunMaintenance performs every housekeeping task once, outside the schedule.
func (d *Daemon) RunMaintenance(ctx context.Context) MaintenanceResult {
	var result MaintenanceResult
	removed, ran := d.sweepStaging(ctx)
	result.StaleRemoved = removed
	result.StagingSkipped = !ran
	result.LogsRemoved = d.cleanupLogs()
	result.BatchesPruned = d.pruneHistory(ctx)
	return result
}

// sweepStaging removes uploads and enhanced outputs left behind by a crash.
// Live batches never hold files anywhere near max_age_hours old.
func (d *Daemon) sweepStaging(ctx context.Context) (int, bool) {
	maxAge := time.Duration(d.cfg.Staging.MaxAgeHours) * time.Hour
	if maxAge <= 0 {
		return 0, false
	}
	result := staging.CleanStale(ctx, []string{d.cfg.Paths.UploadDir, d.cfg.Paths.OutputDir}, maxAge, d.logger)
	if len(result.Removed) > 0 || len(result.Errors) > 0 {
		d.logger.Info("stale artifact sweep complete",
			logging.Int("removed", len(result.Removed)),
			logging.Int("errors", len(result.Errors)),
			logging.String(logging.FieldEventType, "staging_sweep"),
		)
	}
	return len(result.Removed), true
}

func (d *Daemon) cleanupLogs() int {
	target := logging.RetentionTarget{Dir: d.cfg.Paths.LogDir, Pattern: "imagepipe-*.log"}
	if d.comp.LogPath != "" {
		target.Exclude = []string{d.comp.LogPath}
	}
	return logging.CleanupOldLogs(d.logger, d.cfg.Logging.RetentionDays, target)
}

func (d *Daemon) pruneHistory(ctx context.Context) int64 {
	days := d.cfg.Logging.RetentionDays
	if d.comp.History == nil || days <= 0 {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	removed, err := d.comp.History.Prune(ctx, cutoff)
	if err != nil {
		logging.WarnWithContext(d.logger, "history prune failed", "history_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check "+filepath.Base(d.comp.History.Path())+" for corruption"),
		)
		return 0
	}
	if removed > 0 {
		d.logger.Info("history pruned",
			logging.Int64("batches", removed),
			logging.String(logging.FieldEventType, "history_pruned"),
		)
	}
	return removed
}
