package jobs

import (
	"log/slog"
	"time"

	"tally/internal/config"
)

type walCheckpointer interface {
	CheckpointWAL(mode string) error
}

// CheckpointJob folds the SQLite write-ahead log back into the database file
// so it does not grow unbounded under steady ingestion.
type CheckpointJob struct {
	dbProvider DBProvider
	logger     *slog.Logger
	cfg        *config.Config
}

func NewCheckpointJob(dbProvider DBProvider, logger *slog.Logger, cfg *config.Config) *CheckpointJob {
	return &CheckpointJob{dbProvider: dbProvider, logger: logger, cfg: cfg}
}

func (j *CheckpointJob) Name() string { return "wal_checkpoint" }

func (j *CheckpointJob) Interval() time.Duration {
	if j.cfg.JobIntervalSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(j.cfg.JobIntervalSeconds) * time.Second
}

func (j *CheckpointJob) Enabled() bool {
	_, ok := j.dbProvider.(walCheckpointer)
	return ok
}

func (j *CheckpointJob) Run() error {
	cp, ok := j.dbProvider.(walCheckpointer)
	if !ok {
		return nil
	}
	if err := cp.CheckpointWAL("TRUNCATE"); err != nil {
		return err
	}
	j.logger.Debug("WAL checkpoint completed")
	return nil
}
