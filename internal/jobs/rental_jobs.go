package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rental-manager-backend/internal/domain"
	"rental-manager-backend/internal/lock"
	"rental-manager-backend/internal/logger"
)

// BatchLockKey serializes batch recomputes across scheduler instances.
const BatchLockKey = "rental-status:batch"

// ErrDisabled is returned when rental_status.enabled is false.
var ErrDisabled = errors.New("rental status updates are disabled")

// NewBatchID builds the id recorded on every log entry of one run.
func NewBatchID(asOf time.Time) string {
	return fmt.Sprintf("rs-%s-%s", asOf.Format("20060102"), uuid.NewString()[:8])
}

// RecomputeRentalStatuses is the nightly cron entry point.
func (jr *JobRunner) RecomputeRentalStatuses() {
	jr.runWithRecovery("RecomputeRentalStatuses", func(ctx context.Context) {
		_, err := jr.RunRentalStatusRecompute(ctx, jr.rentalStatus.Today())
		switch {
		case err == nil:
		case errors.Is(err, ErrDisabled):
			logger.Info("Rental status updates disabled, skipping recompute")
		case errors.Is(err, lock.ErrNotAcquired):
			logger.Info("Another instance holds the batch lock, skipping recompute")
		default:
			logger.Error("Rental status recompute failed", "error", err)
		}
	})
}

// RunRentalStatusRecompute runs one batch under the cross-process lock.
func (jr *JobRunner) RunRentalStatusRecompute(ctx context.Context, asOf time.Time) (*domain.BatchResult, error) {
	if !jr.config.RentalStatus.Enabled {
		return nil, ErrDisabled
	}

	release, err := jr.locker.Acquire(ctx, BatchLockKey, jr.config.LockTTL())
	if err != nil {
		return nil, err
	}
	defer func() {
		// release on a fresh context so a cancelled run still frees the lock
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			logger.Warn("Failed to release batch lock", "error", err)
		}
	}()

	result, err := jr.rentalStatus.BatchRecomputeOverdue(ctx, asOf, NewBatchID(asOf))
	if err != nil {
		return result, err
	}
	if result.Failed > 0 {
		logger.Warn("Rental status recompute finished with failures",
			"batch_id", result.BatchID, "failed", result.Failed, "examined", result.Examined)
	}
	return result, nil
}

// PurgeStatusLogs is the retention cron entry point.
func (jr *JobRunner) PurgeStatusLogs() {
	jr.runWithRecovery("PurgeStatusLogs", func(ctx context.Context) {
		n, err := jr.RunStatusLogPurge(ctx)
		if err != nil {
			logger.Error("Failed to purge status logs", "error", err)
			return
		}
		logger.Info("Purged status logs", "count", n)
	})
}

// RunStatusLogPurge deletes log entries older than the retention window.
func (jr *JobRunner) RunStatusLogPurge(ctx context.Context) (int64, error) {
	cutoff := jr.now().UTC().Add(-jr.config.RentalStatus.LogRetention())
	return jr.retention.PurgeBefore(ctx, cutoff)
}
