package jobs

import (
	"log/slog"
	"time"

	"tally/internal/config"
	"tally/internal/events"
	"tally/internal/metrics"
)

const retentionBatchSize = 1000

// RetentionJob deletes raw events older than the configured retention.
// Daily stats are kept, so historical pageview totals survive.
type RetentionJob struct {
	dbProvider DBProvider
	logger     *slog.Logger
	cfg        *config.Config
	now        func() time.Time
}

func NewRetentionJob(dbProvider DBProvider, logger *slog.Logger, cfg *config.Config) *RetentionJob {
	return &RetentionJob{
		dbProvider: dbProvider,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

func (j *RetentionJob) Name() string            { return "event_retention" }
func (j *RetentionJob) Interval() time.Duration { return 24 * time.Hour }
func (j *RetentionJob) Enabled() bool           { return j.cfg.EventRetentionDays > 0 }

// Run removes events created before the start of the UTC day that lies the
// retention period before now. Whole days are purged, so every date that
// still has raw events has all of them.
func (j *RetentionJob) Run() error {
	retentionDays := j.cfg.EventRetentionDays
	if retentionDays <= 0 {
		return nil
	}
	cutoff := j.now().UTC().AddDate(0, 0, -retentionDays).Truncate(24 * time.Hour)

	j.logger.Info("Starting cleanup of old events",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff_date", cutoff))

	deleted, err := events.DeleteEventsBefore(j.dbProvider.GetConnection(), cutoff, retentionBatchSize)
	metrics.CountPurged(deleted)
	if err != nil {
		j.logger.Error("Failed to delete old events",
			slog.Any("error", err),
			slog.Int64("deleted_so_far", deleted))
		return err
	}

	j.logger.Info("Cleaned up old events",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", retentionDays))
	return nil
}
