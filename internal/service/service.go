package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rental-manager-backend/internal/domain"
	"rental-manager-backend/internal/repository"
)

// RentalStatusService derives rental statuses and persists every change
// together with its audit log entry.
type RentalStatusService interface {
	// RecomputeTransaction recomputes one rental as of asOf under a
	// per-transaction lock and persists any changes atomically.
	RecomputeTransaction(ctx context.Context, transactionID uuid.UUID, asOf time.Time, reason domain.StatusChangeReason, trigger string, actor *string) (*domain.UpdateResult, error)
	// RecomputeOnReturn is called by the returns subsystem after it commits a return.
	RecomputeOnReturn(ctx context.Context, transactionID uuid.UUID, asOf time.Time, actor *string) (*domain.UpdateResult, error)
	// BatchRecomputeOverdue recomputes every non-terminal rental. Failures are
	// recorded per rental and never abort the run.
	BatchRecomputeOverdue(ctx context.Context, asOf time.Time, batchID string) (*domain.BatchResult, error)
	// ExtendRental moves the end date of the outstanding lines and recomputes.
	ExtendRental(ctx context.Context, transactionID uuid.UUID, newEndDate time.Time, actor *string) (*domain.UpdateResult, error)

	History(ctx context.Context, transactionID uuid.UUID, lineID *uuid.UUID, order repository.SortOrder) ([]domain.StatusLogEntry, error)
	// PreviewChanges reports what a batch recompute would change, without writing.
	PreviewChanges(ctx context.Context, asOf time.Time) (*domain.StatusPreview, error)
	OverdueSummary(ctx context.Context, asOf time.Time) (*domain.OverdueSummary, error)
	// Today is the current calendar date in the configured timezone.
	Today() time.Time
}
