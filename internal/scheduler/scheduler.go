package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"rental-manager-backend/internal/jobs"
	"rental-manager-backend/internal/logger"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *jobs.JobRunner
}

// NewScheduler creates a scheduler in the configured rental status timezone,
// with seconds precision.
func NewScheduler(jobRunner *jobs.JobRunner) (*Scheduler, error) {
	cfg := jobRunner.Config()
	c := cron.New(
		cron.WithLocation(cfg.RentalStatus.Location()),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobRunner,
	}
	if err := s.registerJobs(); err != nil {
		return nil, err
	}
	return s, nil
}

// registerJobs registers all scheduled jobs with the cron scheduler
func (s *Scheduler) registerJobs() error {
	cfg := s.jobs.Config()

	if !cfg.RentalStatus.Enabled {
		logger.Info("Rental status updates disabled, no jobs registered")
		return nil
	}

	if _, err := s.cron.AddFunc(cfg.RecomputeCronSpec(), s.jobs.RecomputeRentalStatuses); err != nil {
		return fmt.Errorf("register RecomputeRentalStatuses job: %w", err)
	}
	if _, err := s.cron.AddFunc(cfg.PurgeCronSpec(), s.jobs.PurgeStatusLogs); err != nil {
		return fmt.Errorf("register PurgeStatusLogs job: %w", err)
	}

	logger.Info("All cron jobs registered successfully",
		"recompute", cfg.RecomputeCronSpec(),
		"purge", cfg.PurgeCronSpec(),
		"timezone", cfg.RentalStatus.Timezone)
	return nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	logger.Info("Starting cron scheduler...")
	s.cron.Start()
	logger.Info("Cron scheduler started successfully")
}

// Stop gracefully stops the cron scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	logger.Info("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Cron scheduler stopped")
}

// IsRunning returns true if the scheduler has jobs registered
func (s *Scheduler) IsRunning() bool {
	return len(s.cron.Entries()) > 0
}

// Entries exposes the registered schedule, mainly for logging and tests.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}
