package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rental-manager-backend/internal/domain"
	"rental-manager-backend/internal/logger"
	"rental-manager-backend/internal/repository"
)

const statusLogColumns = `id, transaction_id, transaction_line_id, rental_lifecycle_id, old_status, new_status,
	change_reason, change_trigger, changed_by, changed_at, notes, status_metadata, system_generated, batch_id`

type statusLogRepository struct {
	q querier
}

// Append inserts one immutable log row, filling ID and ChangedAt when unset.
func (r *statusLogRepository) Append(ctx context.Context, e *domain.StatusLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ChangedAt.IsZero() {
		e.ChangedAt = time.Now().UTC()
	}

	var metadata any
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return domain.InvalidArgumentError("status log metadata: %v", err)
		}
		metadata = string(b)
	}

	query := `INSERT INTO rental_status_logs (` + statusLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.q.ExecContext(ctx, query,
		e.ID, e.TransactionID, e.LineID, e.LifecycleID, e.OldStatus, e.NewStatus,
		string(e.Reason), e.Trigger, e.ChangedBy, e.ChangedAt, e.Notes, metadata, e.SystemGenerated, e.BatchID)
	if err != nil {
		return mapError("append status log", err)
	}
	return nil
}

func (r *statusLogRepository) History(ctx context.Context, transactionID uuid.UUID, lineID *uuid.UUID, order repository.SortOrder) ([]domain.StatusLogEntry, error) {
	query := `SELECT ` + statusLogColumns + ` FROM rental_status_logs WHERE transaction_id = $1`
	args := []any{transactionID}
	if lineID != nil {
		query += ` AND transaction_line_id = $2`
		args = append(args, *lineID)
	}

	direction := "ASC"
	if order == repository.SortDescending {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY changed_at %s, seq %s", direction, direction)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("query status history", err)
	}
	defer rows.Close()

	var entries []domain.StatusLogEntry
	for rows.Next() {
		e, err := scanStatusLog(rows)
		if err != nil {
			return nil, mapError("scan status log", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate status history", err)
	}
	return entries, nil
}

func (r *statusLogRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM rental_status_logs WHERE changed_at < $1`
	logger.DatabaseCall("PurgeBefore", query, "cutoff", cutoff)
	res, err := r.q.ExecContext(ctx, query, cutoff)
	if err != nil {
		logger.DatabaseResult("PurgeBefore", 0, err)
		return 0, mapError("purge status logs", err)
	}
	n, err := res.RowsAffected()
	logger.DatabaseResult("PurgeBefore", n, err)
	if err != nil {
		return 0, mapError("purge status logs", err)
	}
	return n, nil
}

func scanStatusLog(row rowScanner) (*domain.StatusLogEntry, error) {
	var (
		e                                    domain.StatusLogEntry
		lineID, lifecycleID                  uuid.NullUUID
		oldStatus, trigger, changedBy, notes sql.NullString
		batchID                              sql.NullString
		reason                               string
		metadata                             []byte
	)
	if err := row.Scan(&e.ID, &e.TransactionID, &lineID, &lifecycleID, &oldStatus, &e.NewStatus,
		&reason, &trigger, &changedBy, &e.ChangedAt, &notes, &metadata, &e.SystemGenerated, &batchID); err != nil {
		return nil, err
	}
	e.Reason = domain.StatusChangeReason(reason)
	e.Trigger = trigger.String
	if lineID.Valid {
		id := lineID.UUID
		e.LineID = &id
	}
	if lifecycleID.Valid {
		id := lifecycleID.UUID
		e.LifecycleID = &id
	}
	e.OldStatus = nullString(oldStatus)
	e.ChangedBy = nullString(changedBy)
	e.Notes = nullString(notes)
	e.BatchID = nullString(batchID)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode status metadata: %w", err)
		}
	}
	return &e, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
