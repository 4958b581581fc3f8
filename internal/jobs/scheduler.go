package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"tally/internal/config"
)

// DBProvider hands out the shared database connection.
type DBProvider interface {
	GetConnection() *gorm.DB
}

// Job is a unit of periodic background work.
type Job interface {
	Name() string
	Interval() time.Duration
	// Enabled reports whether the job should be scheduled at all.
	Enabled() bool
	Run() error
}

// Scheduler runs background jobs on their own tickers. It implements
// cartridge.BackgroundWorker.
type Scheduler struct {
	logger    *slog.Logger
	jobs      []Job
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	mu        sync.Mutex
	wg        sync.WaitGroup

	// Names of jobs with a run in flight. A tick that finds its own job
	// still running is skipped; other jobs are unaffected.
	processingMutex sync.Mutex
	processing      map[string]bool
}

// NewScheduler creates a scheduler with the retention, WAL checkpoint and
// GeoLite refresh jobs.
func NewScheduler(dbProvider DBProvider, logger *slog.Logger, cfg *config.Config) *Scheduler {
	return NewSchedulerWithJobs(logger,
		NewRetentionJob(dbProvider, logger, cfg),
		NewCheckpointJob(dbProvider, logger, cfg),
		NewGeoLiteUpdaterJob(logger, cfg),
	)
}

// NewSchedulerWithJobs creates a scheduler for an explicit job list.
func NewSchedulerWithJobs(logger *slog.Logger, jobs ...Job) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:     logger,
		jobs:       jobs,
		ctx:        ctx,
		cancel:     cancel,
		processing: make(map[string]bool),
	}
}

// executeJobSafely runs a job unless its previous run is still executing.
func (s *Scheduler) executeJobSafely(job Job) {
	name := job.Name()
	s.processingMutex.Lock()
	if s.processing[name] {
		s.logger.Debug("Skipping job execution - previous run still in progress", slog.String("job", name))
		s.processingMutex.Unlock()
		return
	}
	s.processing[name] = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", job.Name()),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		delete(s.processing, name)
		s.processingMutex.Unlock()
	}()

	if err := job.Run(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", job.Name()), slog.Any("error", err))
	}
}

// Start begins all enabled background jobs. Each runs once immediately and
// then on its interval.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}
	s.isRunning = true

	started := 0
	for _, job := range s.jobs {
		if !job.Enabled() {
			s.logger.Info("Background job disabled", slog.String("job", job.Name()))
			continue
		}
		started++
		s.wg.Add(1)
		go s.loop(job)
	}

	s.logger.Info("Background jobs started", slog.Int("count", started))
	return nil
}

func (s *Scheduler) loop(job Job) {
	defer s.wg.Done()

	s.logger.Info("Starting background job",
		slog.String("job", job.Name()),
		slog.Duration("interval", job.Interval()))
	ticker := time.NewTicker(job.Interval())
	defer ticker.Stop()

	s.executeJobSafely(job)
	for {
		select {
		case <-ticker.C:
			s.executeJobSafely(job)
		case <-s.ctx.Done():
			s.logger.Info("Background job stopped", slog.String("job", job.Name()))
			return
		}
	}
}

// Stop halts all background jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.logger.Info("Stopping background jobs...")
	s.cancel()
	s.wg.Wait()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
