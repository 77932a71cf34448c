package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"rental-manager-backend/internal/domain"
	"rental-manager-backend/internal/logger"
	"rental-manager-backend/internal/repository"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	*rentalRepository
	*statusLogRepository
}

var (
	_ repository.RentalStatusStore   = (*Store)(nil)
	_ repository.StatusLogRepository = (*Store)(nil)
	_ repository.StatusLogRetention  = (*Store)(nil)
)

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:                  db,
		rentalRepository:    &rentalRepository{q: db},
		statusLogRepository: &statusLogRepository{q: db},
	}
}

func (s *Store) GetRental(ctx context.Context, id uuid.UUID) (*domain.RentalTransaction, error) {
	return s.rentalRepository.getRental(ctx, id, false)
}

// InTx runs fn under READ COMMITTED; the per-rental row locks taken by
// LockRental provide the serialization.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.RentalStatusTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&txRepository{
		rentalRepository:    &rentalRepository{q: tx},
		statusLogRepository: &statusLogRepository{q: tx},
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		logger.Error("Failed to commit rental status transaction", "error", err)
		return mapError("commit transaction", err)
	}
	return nil
}

type txRepository struct {
	*rentalRepository
	*statusLogRepository
}

func (t *txRepository) LockRental(ctx context.Context, id uuid.UUID) (*domain.RentalTransaction, error) {
	return t.rentalRepository.getRental(ctx, id, true)
}

func (t *txRepository) AppendStatusLog(ctx context.Context, entry *domain.StatusLogEntry) error {
	return t.statusLogRepository.Append(ctx, entry)
}

// mapError folds driver errors into the domain taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.StorageError(op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return domain.ConflictError(op, err)
		}
	}
	return domain.StorageError(op, err)
}
