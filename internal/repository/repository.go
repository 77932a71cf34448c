package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rental-manager-backend/internal/domain"
)

type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// RentalStatusStore reads rental state and runs status writes atomically.
type RentalStatusStore interface {
	// InTx runs fn in one database transaction. fn's error rolls everything back.
	InTx(ctx context.Context, fn func(tx RentalStatusTx) error) error

	GetRental(ctx context.Context, id uuid.UUID) (*domain.RentalTransaction, error)
	// ListRecomputeCandidates returns ids of non-terminal rentals with id > after, ordered by id.
	ListRecomputeCandidates(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	// ListOpenRentals is the bulk read behind the dry-run queries.
	ListOpenRentals(ctx context.Context, after uuid.UUID, limit int) ([]domain.RentalTransaction, error)
}

// RentalStatusTx is the write surface available inside InTx.
type RentalStatusTx interface {
	// LockRental loads a rental and its lines and holds them until the
	// transaction ends. A rental already locked elsewhere yields
	// domain.ErrConcurrencyConflict.
	LockRental(ctx context.Context, id uuid.UUID) (*domain.RentalTransaction, error)
	UpdateLineStatus(ctx context.Context, lineID uuid.UUID, status domain.RentalLineStatus) error
	UpdateHeaderStatus(ctx context.Context, id uuid.UUID, status domain.RentalHeaderStatus) error
	// ExtendRental flags the rental as extended and moves the end date of
	// every line that is not fully returned.
	ExtendRental(ctx context.Context, id uuid.UUID, newEndDate time.Time) error
	AppendStatusLog(ctx context.Context, entry *domain.StatusLogEntry) error
}

// StatusLogRepository is append-only: there is no update or delete.
type StatusLogRepository interface {
	Append(ctx context.Context, entry *domain.StatusLogEntry) error
	History(ctx context.Context, transactionID uuid.UUID, lineID *uuid.UUID, order SortOrder) ([]domain.StatusLogEntry, error)
}

// StatusLogRetention is housekeeping only and is never used by the status engine.
type StatusLogRetention interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
