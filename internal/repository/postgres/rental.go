package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"rental-manager-backend/internal/domain"
)

const (
	rentalHeaderColumns = `id, transaction_number, current_rental_status, is_extended, lifecycle_id, updated_at`
	rentalLineColumns   = `id, transaction_id, line_number, rental_start_date, rental_end_date, quantity, returned_quantity, current_rental_status, updated_at`
)

type rentalRepository struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *rentalRepository) getRental(ctx context.Context, id uuid.UUID, lock bool) (*domain.RentalTransaction, error) {
	query := `SELECT ` + rentalHeaderColumns + ` FROM transaction_headers WHERE id = $1 AND transaction_type = 'RENTAL'`
	if lock {
		query += ` FOR UPDATE NOWAIT`
	}

	rental, err := scanRentalHeader(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError("rental transaction %s", id)
	}
	if err != nil {
		return nil, mapError("load rental transaction", err)
	}

	lineQuery := `SELECT ` + rentalLineColumns + ` FROM transaction_lines
		WHERE transaction_id = $1 AND rental_end_date IS NOT NULL
		ORDER BY line_number`
	if lock {
		lineQuery += ` FOR UPDATE NOWAIT`
	}
	rows, err := r.q.QueryContext(ctx, lineQuery, id)
	if err != nil {
		return nil, mapError("load rental lines", err)
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanRentalLine(rows)
		if err != nil {
			return nil, mapError("scan rental line", err)
		}
		rental.Lines = append(rental.Lines, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate rental lines", err)
	}
	return rental, nil
}

func (r *rentalRepository) ListRecomputeCandidates(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := `SELECT id FROM transaction_headers
		WHERE transaction_type = 'RENTAL'
		  AND current_rental_status IS DISTINCT FROM 'COMPLETED'
		  AND id > $1
		ORDER BY id
		LIMIT $2`
	rows, err := r.q.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, mapError("list recompute candidates", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, mapError("scan recompute candidate", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate recompute candidates", err)
	}
	return ids, nil
}

// ListOpenRentals reads one page of non-terminal rentals with two queries:
// one for the headers and one for all of their lines.
func (r *rentalRepository) ListOpenRentals(ctx context.Context, after uuid.UUID, limit int) ([]domain.RentalTransaction, error) {
	query := `SELECT ` + rentalHeaderColumns + ` FROM transaction_headers
		WHERE transaction_type = 'RENTAL'
		  AND current_rental_status IS DISTINCT FROM 'COMPLETED'
		  AND id > $1
		ORDER BY id
		LIMIT $2`
	rows, err := r.q.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, mapError("list open rentals", err)
	}
	defer rows.Close()

	var rentals []domain.RentalTransaction
	index := make(map[uuid.UUID]int)
	ids := make([]string, 0, limit)
	for rows.Next() {
		rental, err := scanRentalHeader(rows)
		if err != nil {
			return nil, mapError("scan open rental", err)
		}
		index[rental.ID] = len(rentals)
		ids = append(ids, rental.ID.String())
		rentals = append(rentals, *rental)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate open rentals", err)
	}
	if len(rentals) == 0 {
		return nil, nil
	}

	lineQuery := `SELECT ` + rentalLineColumns + ` FROM transaction_lines
		WHERE transaction_id = ANY($1::uuid[]) AND rental_end_date IS NOT NULL
		ORDER BY transaction_id, line_number`
	lineRows, err := r.q.QueryContext(ctx, lineQuery, pq.Array(ids))
	if err != nil {
		return nil, mapError("list open rental lines", err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		l, err := scanRentalLine(lineRows)
		if err != nil {
			return nil, mapError("scan open rental line", err)
		}
		if i, ok := index[l.TransactionID]; ok {
			rentals[i].Lines = append(rentals[i].Lines, *l)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, mapError("iterate open rental lines", err)
	}
	return rentals, nil
}

func (r *rentalRepository) UpdateLineStatus(ctx context.Context, lineID uuid.UUID, status domain.RentalLineStatus) error {
	query := `UPDATE transaction_lines SET current_rental_status = $1, updated_at = $2 WHERE id = $3`
	res, err := r.q.ExecContext(ctx, query, string(status), time.Now(), lineID)
	if err != nil {
		return mapError("update line status", err)
	}
	return expectOneRow(res, "transaction line %s", lineID)
}

func (r *rentalRepository) UpdateHeaderStatus(ctx context.Context, id uuid.UUID, status domain.RentalHeaderStatus) error {
	query := `UPDATE transaction_headers SET current_rental_status = $1, updated_at = $2 WHERE id = $3`
	res, err := r.q.ExecContext(ctx, query, string(status), time.Now(), id)
	if err != nil {
		return mapError("update header status", err)
	}
	return expectOneRow(res, "rental transaction %s", id)
}

func (r *rentalRepository) ExtendRental(ctx context.Context, id uuid.UUID, newEndDate time.Time) error {
	now := time.Now()
	res, err := r.q.ExecContext(ctx,
		`UPDATE transaction_headers SET is_extended = TRUE, updated_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return mapError("extend rental", err)
	}
	if err := expectOneRow(res, "rental transaction %s", id); err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx,
		`UPDATE transaction_lines SET rental_end_date = $1, updated_at = $2
		 WHERE transaction_id = $3 AND rental_end_date IS NOT NULL AND returned_quantity < quantity`,
		newEndDate.Format(domain.DateLayout), now, id)
	if err != nil {
		return mapError("extend rental lines", err)
	}
	return nil
}

func expectOneRow(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("rows affected", err)
	}
	if n == 0 {
		return domain.NotFoundError(format, args...)
	}
	return nil
}

func scanRentalHeader(row rowScanner) (*domain.RentalTransaction, error) {
	var (
		rental    domain.RentalTransaction
		status    sql.NullString
		lifecycle uuid.NullUUID
	)
	if err := row.Scan(&rental.ID, &rental.TransactionNumber, &status, &rental.IsExtended, &lifecycle, &rental.UpdatedAt); err != nil {
		return nil, err
	}
	if status.Valid {
		st, err := domain.ParseRentalHeaderStatus(status.String)
		if err != nil {
			return nil, err
		}
		rental.CurrentRentalStatus = &st
	}
	if lifecycle.Valid {
		id := lifecycle.UUID
		rental.LifecycleID = &id
	}
	return &rental, nil
}

func scanRentalLine(row rowScanner) (*domain.TransactionLine, error) {
	var (
		l      domain.TransactionLine
		start  sql.NullTime
		status sql.NullString
	)
	if err := row.Scan(&l.ID, &l.TransactionID, &l.LineNumber, &start, &l.RentalEndDate,
		&l.Quantity, &l.ReturnedQuantity, &status, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if start.Valid {
		l.RentalStartDate = start.Time
	}
	if status.Valid {
		st, err := domain.ParseRentalLineStatus(status.String)
		if err != nil {
			return nil, err
		}
		l.CurrentRentalStatus = &st
	}
	return &l, nil
}
