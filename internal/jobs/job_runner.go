package jobs

import (
	"context"
	"sync"
	"time"

	"rental-manager-backend/internal/config"
	"rental-manager-backend/internal/lock"
	"rental-manager-backend/internal/logger"
	"rental-manager-backend/internal/repository"
	"rental-manager-backend/internal/service"
)

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	rentalStatus service.RentalStatusService
	retention    repository.StatusLogRetention
	locker       lock.Locker
	config       *config.Config
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(rentalStatus service.RentalStatusService, retention repository.StatusLogRetention, locker lock.Locker, cfg *config.Config) *JobRunner {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobRunner{
		rentalStatus: rentalStatus,
		retention:    retention,
		locker:       locker,
		config:       cfg,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Config returns the configuration the runner was built with
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context)) {
	jr.wg.Add(1)
	defer jr.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	start := time.Now()
	logger.Info("Starting job", "job", jobName)
	jobFunc(jr.ctx)
	logger.Info("Job completed", "job", jobName, "duration", time.Since(start))
}

// Shutdown asks running jobs to stop launching new work and waits for them
// to return, or for ctx to expire.
func (jr *JobRunner) Shutdown(ctx context.Context) {
	jr.cancel()
	done := make(chan struct{})
	go func() {
		jr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Timed out waiting for running jobs", "error", ctx.Err())
	}
}

// RunAllNightlyJobs runs all nightly jobs (for manual execution)
func (jr *JobRunner) RunAllNightlyJobs() {
	jr.RecomputeRentalStatuses()
	jr.PurgeStatusLogs()
}
