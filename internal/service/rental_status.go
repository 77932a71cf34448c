package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"rental-manager-backend/internal/domain"
	"rental-manager-backend/internal/logger"
	"rental-manager-backend/internal/rentalstatus"
	"rental-manager-backend/internal/repository"
)

// TriggerReturnEvent is the trigger recorded for recomputes started by the
// returns subsystem.
const TriggerReturnEvent = "RETURN_EVENT"

// RentalStatusOptions tunes the batch and the clock. Zero values get defaults.
type RentalStatusOptions struct {
	Workers              int
	PageSize             int
	MaxConflictRetries   int
	RetryInitialInterval time.Duration
	ItemsPerSecond       float64
	Location             *time.Location
	Now                  func() time.Time
}

func (o *RentalStatusOptions) withDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.PageSize <= 0 {
		o.PageSize = 500
	}
	if o.MaxConflictRetries < 0 {
		o.MaxConflictRetries = 0
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 50 * time.Millisecond
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type rentalStatusService struct {
	store  repository.RentalStatusStore
	logs   repository.StatusLogRepository
	opts   RentalStatusOptions
	tracer trace.Tracer

	statusChanges metric.Int64Counter
	batchItems    metric.Int64Counter
}

func NewRentalStatusService(store repository.RentalStatusStore, logs repository.StatusLogRepository, opts RentalStatusOptions) RentalStatusService {
	opts.withDefaults()
	meter := otel.Meter("rental-manager-backend/service")
	statusChanges, err := meter.Int64Counter("rental_status.changes",
		metric.WithDescription("Persisted rental status transitions"))
	if err != nil {
		logger.Warn("Failed to create status change counter", "error", err)
	}
	batchItems, err := meter.Int64Counter("rental_status.batch.items",
		metric.WithDescription("Rentals processed by batch recompute, by outcome"))
	if err != nil {
		logger.Warn("Failed to create batch item counter", "error", err)
	}
	return &rentalStatusService{
		store:         store,
		logs:          logs,
		opts:          opts,
		tracer:        otel.Tracer("rental-manager-backend/service"),
		statusChanges: statusChanges,
		batchItems:    batchItems,
	}
}

// recomputeRequest carries the audit fields of one recompute.
type recomputeRequest struct {
	reason   domain.StatusChangeReason
	trigger  string
	actor    *string
	batchID  *string
	extendTo *time.Time
}

func (s *rentalStatusService) Today() time.Time {
	return rentalstatus.DateOf(s.opts.Now().In(s.opts.Location))
}

func normalizeAsOf(asOf time.Time) (time.Time, error) {
	if asOf.IsZero() {
		return time.Time{}, domain.InvalidArgumentError("as_of date is required")
	}
	return rentalstatus.DateOf(asOf), nil
}

func (s *rentalStatusService) RecomputeTransaction(ctx context.Context, transactionID uuid.UUID, asOf time.Time, reason domain.StatusChangeReason, trigger string, actor *string) (*domain.UpdateResult, error) {
	ctx, span := s.tracer.Start(ctx, "rentalstatus.recompute_transaction", trace.WithAttributes(
		attribute.String("transaction.id", transactionID.String()),
		attribute.String("reason", string(reason)),
	))
	defer span.End()

	res, err := s.recompute(ctx, transactionID, asOf, recomputeRequest{
		reason:  reason,
		trigger: trigger,
		actor:   actor,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("changed", res.Changed))
	return res, nil
}

func (s *rentalStatusService) RecomputeOnReturn(ctx context.Context, transactionID uuid.UUID, asOf time.Time, actor *string) (*domain.UpdateResult, error) {
	return s.RecomputeTransaction(ctx, transactionID, asOf, domain.ReasonReturnEvent, TriggerReturnEvent, actor)
}

func (s *rentalStatusService) ExtendRental(ctx context.Context, transactionID uuid.UUID, newEndDate time.Time, actor *string) (*domain.UpdateResult, error) {
	ctx, span := s.tracer.Start(ctx, "rentalstatus.extend_rental", trace.WithAttributes(
		attribute.String("transaction.id", transactionID.String()),
	))
	defer span.End()

	if newEndDate.IsZero() {
		err := domain.InvalidArgumentError("new end date is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	end := rentalstatus.DateOf(newEndDate)
	res, err := s.recompute(ctx, transactionID, s.Today(), recomputeRequest{
		reason:   domain.ReasonExtension,
		trigger:  "extend:" + end.Format(domain.DateLayout),
		actor:    actor,
		extendTo: &end,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

// recompute runs the locked read-compute-write for one rental.
func (s *rentalStatusService) recompute(ctx context.Context, transactionID uuid.UUID, asOf time.Time, req recomputeRequest) (*domain.UpdateResult, error) {
	asOf, err := normalizeAsOf(asOf)
	if err != nil {
		return nil, err
	}

	var (
		result *domain.UpdateResult
		rental *domain.RentalTransaction
	)
	err = s.store.InTx(ctx, func(tx repository.RentalStatusTx) error {
		var err error
		rental, err = tx.LockRental(ctx, transactionID)
		if err != nil {
			return err
		}
		if err := rental.Validate(); err != nil {
			return err
		}
		if req.extendTo != nil {
			if err := applyExtension(rental, *req.extendTo); err != nil {
				return err
			}
			if err := tx.ExtendRental(ctx, transactionID, *req.extendTo); err != nil {
				return err
			}
		}

		result = rentalstatus.Evaluate(rental, asOf)
		return s.persist(ctx, tx, rental, result, req)
	})
	if err != nil {
		return nil, err
	}

	s.report(ctx, rental, result, req)
	return result, nil
}

// applyExtension mirrors tx.ExtendRental on the locked in-memory copy.
func applyExtension(rental *domain.RentalTransaction, newEnd time.Time) error {
	outstanding := 0
	for i := range rental.Lines {
		l := &rental.Lines[i]
		if l.FullyReturned() {
			continue
		}
		outstanding++
		if !newEnd.After(rentalstatus.DateOf(l.RentalEndDate)) {
			return domain.InvalidArgumentError("new end date %s must be after current end date %s of line %d",
				newEnd.Format(domain.DateLayout), l.RentalEndDate.Format(domain.DateLayout), l.LineNumber)
		}
		l.RentalEndDate = newEnd
	}
	if outstanding == 0 {
		return domain.InvalidArgumentError("rental %s has no outstanding lines to extend", rental.ID)
	}
	rental.IsExtended = true
	return nil
}

func (s *rentalStatusService) persist(ctx context.Context, tx repository.RentalStatusTx, rental *domain.RentalTransaction, res *domain.UpdateResult, req recomputeRequest) error {
	changedAt := s.opts.Now().UTC()

	for i, lc := range res.Lines {
		if !lc.Changed {
			continue
		}
		line := rental.Lines[i]
		if err := tx.UpdateLineStatus(ctx, lc.LineID, lc.NewStatus); err != nil {
			return err
		}
		lineID := lc.LineID
		entry := s.newEntry(rental, req, changedAt)
		entry.LineID = &lineID
		if lc.OldStatus != nil {
			old := string(*lc.OldStatus)
			entry.OldStatus = &old
		}
		entry.NewStatus = string(lc.NewStatus)
		daysOverdue := 0
		if !line.FullyReturned() {
			daysOverdue = rentalstatus.DaysOverdue(line.RentalEndDate, res.AsOf)
		}
		entry.Metadata = map[string]any{
			"days_overdue":      daysOverdue,
			"ordered_quantity":  line.Quantity.String(),
			"returned_quantity": line.ReturnedQuantity.String(),
		}
		if err := tx.AppendStatusLog(ctx, entry); err != nil {
			return err
		}
	}

	if !res.HeaderChanged {
		return nil
	}
	if err := tx.UpdateHeaderStatus(ctx, rental.ID, res.NewHeaderStatus); err != nil {
		return err
	}
	returnedLines := 0
	for _, l := range rental.Lines {
		if l.FullyReturned() {
			returnedLines++
		}
	}
	entry := s.newEntry(rental, req, changedAt)
	if res.OldHeaderStatus != nil {
		old := string(*res.OldHeaderStatus)
		entry.OldStatus = &old
	}
	entry.NewStatus = string(res.NewHeaderStatus)
	entry.Metadata = map[string]any{
		"days_overdue":        rentalstatus.MaxDaysOverdue(rental, res.AsOf),
		"line_count":          len(rental.Lines),
		"returned_line_count": returnedLines,
	}
	return tx.AppendStatusLog(ctx, entry)
}

func (s *rentalStatusService) newEntry(rental *domain.RentalTransaction, req recomputeRequest, changedAt time.Time) *domain.StatusLogEntry {
	return &domain.StatusLogEntry{
		TransactionID:   rental.ID,
		LifecycleID:     rental.LifecycleID,
		Reason:          req.reason,
		Trigger:         req.trigger,
		ChangedBy:       req.actor,
		ChangedAt:       changedAt,
		SystemGenerated: req.actor == nil,
		BatchID:         req.batchID,
	}
}

// report logs and counts committed transitions.
func (s *rentalStatusService) report(ctx context.Context, rental *domain.RentalTransaction, res *domain.UpdateResult, req recomputeRequest) {
	for _, lc := range res.ChangedLines() {
		logger.StatusTransition("line", rental.ID.String(), statusString(lc.OldStatus), string(lc.NewStatus), string(req.reason),
			"line_id", lc.LineID.String(), "trigger", req.trigger)
		s.countChange(ctx, "line", req.reason)
	}
	if res.HeaderChanged {
		logger.StatusTransition("header", rental.ID.String(), statusString(res.OldHeaderStatus), string(res.NewHeaderStatus), string(req.reason),
			"trigger", req.trigger)
		s.countChange(ctx, "header", req.reason)
	}
}

func (s *rentalStatusService) countChange(ctx context.Context, scope string, reason domain.StatusChangeReason) {
	if s.statusChanges == nil {
		return
	}
	s.statusChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("reason", string(reason)),
	))
}

func statusString[T ~string](st *T) string {
	if st == nil {
		return ""
	}
	return string(*st)
}

// recomputeWithRetry retries lost lock races with exponential backoff. Every
// other error is returned immediately.
func (s *rentalStatusService) recomputeWithRetry(ctx context.Context, transactionID uuid.UUID, asOf time.Time, req recomputeRequest) (*domain.UpdateResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitialInterval

	op := func() (*domain.UpdateResult, error) {
		res, err := s.recompute(ctx, transactionID, asOf, req)
		if err != nil && !errors.Is(err, domain.ErrConcurrencyConflict) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.opts.MaxConflictRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("Retrying rental recompute after conflict",
				"transaction_id", transactionID.String(), "retry_in", next, "error", err)
		}),
	)
}

func (s *rentalStatusService) BatchRecomputeOverdue(ctx context.Context, asOf time.Time, batchID string) (*domain.BatchResult, error) {
	asOf, err := normalizeAsOf(asOf)
	if err != nil {
		return nil, err
	}
	if batchID == "" {
		batchID = uuid.NewString()
	}

	ctx, span := s.tracer.Start(ctx, "rentalstatus.batch_recompute", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.String("as_of", asOf.Format(domain.DateLayout)),
	))
	defer span.End()

	log := logger.WithBatch(batchID)
	log.Info("Batch rental status recompute started", "as_of", asOf.Format(domain.DateLayout), "workers", s.opts.Workers)

	result := &domain.BatchResult{
		BatchID:   batchID,
		AsOf:      asOf,
		StartedAt: s.opts.Now().UTC(),
	}
	req := recomputeRequest{
		reason:  domain.ReasonScheduledUpdate,
		trigger: batchID,
		batchID: &batchID,
	}

	var limiter *rate.Limiter
	if s.opts.ItemsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.ItemsPerSecond), 1)
	}

	// In-flight items run on a context that ignores cancellation so a stop
	// request never leaves one rental half-processed.
	itemCtx := context.WithoutCancel(ctx)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.opts.Workers)

	record := func(id uuid.UUID, res *domain.UpdateResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		result.Examined++
		outcome := "unchanged"
		switch {
		case err != nil:
			outcome = "failed"
			result.Failed++
			result.Failures = append(result.Failures, domain.BatchFailure{
				TransactionID: id,
				Kind:          domain.ErrorKind(err),
				Error:         err.Error(),
			})
			log.Warn("Rental status recompute failed", "transaction_id", id.String(), "error", err)
		case res.Changed:
			outcome = "changed"
			result.Changed++
		default:
			result.Unchanged++
		}
		if s.batchItems != nil {
			s.batchItems.Add(itemCtx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}

	var listErr error
	after := uuid.Nil
pages:
	for {
		if ctx.Err() != nil {
			break
		}
		ids, err := s.store.ListRecomputeCandidates(ctx, after, s.opts.PageSize)
		if err != nil {
			if ctx.Err() == nil {
				listErr = err
			}
			break
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				break pages
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					break pages
				}
			}
			g.Go(func() error {
				res, err := s.recomputeWithRetry(itemCtx, id, asOf, req)
				record(id, res, err)
				return nil
			})
		}
		after = ids[len(ids)-1]
		if len(ids) < s.opts.PageSize {
			break
		}
	}
	_ = g.Wait()

	result.Cancelled = ctx.Err() != nil
	result.FinishedAt = s.opts.Now().UTC()

	span.SetAttributes(
		attribute.Int("batch.examined", result.Examined),
		attribute.Int("batch.changed", result.Changed),
		attribute.Int("batch.failed", result.Failed),
		attribute.Bool("batch.cancelled", result.Cancelled),
	)
	log.Info("Batch rental status recompute finished",
		"examined", result.Examined,
		"changed", result.Changed,
		"unchanged", result.Unchanged,
		"failed", result.Failed,
		"cancelled", result.Cancelled,
		"duration", result.Duration(),
	)

	if listErr != nil {
		span.RecordError(listErr)
		span.SetStatus(codes.Error, listErr.Error())
		return result, fmt.Errorf("list recompute candidates: %w", listErr)
	}
	return result, nil
}

func (s *rentalStatusService) History(ctx context.Context, transactionID uuid.UUID, lineID *uuid.UUID, order repository.SortOrder) ([]domain.StatusLogEntry, error) {
	switch order {
	case "":
		order = repository.SortAscending
	case repository.SortAscending, repository.SortDescending:
	default:
		return nil, domain.InvalidArgumentError("unknown sort order %q", order)
	}
	if _, err := s.store.GetRental(ctx, transactionID); err != nil {
		return nil, err
	}
	return s.logs.History(ctx, transactionID, lineID, order)
}

// eachOpenRental pages through non-terminal rentals.
func (s *rentalStatusService) eachOpenRental(ctx context.Context, fn func(r *domain.RentalTransaction)) error {
	after := uuid.Nil
	for {
		page, err := s.store.ListOpenRentals(ctx, after, s.opts.PageSize)
		if err != nil {
			return err
		}
		for i := range page {
			fn(&page[i])
		}
		if len(page) < s.opts.PageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

func (s *rentalStatusService) PreviewChanges(ctx context.Context, asOf time.Time) (*domain.StatusPreview, error) {
	asOf, err := normalizeAsOf(asOf)
	if err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "rentalstatus.preview_changes")
	defer span.End()

	preview := &domain.StatusPreview{AsOf: asOf, Changes: []domain.UpdateResult{}}
	err = s.eachOpenRental(ctx, func(r *domain.RentalTransaction) {
		preview.Examined++
		if err := r.Validate(); err != nil {
			preview.Invalid = append(preview.Invalid, domain.BatchFailure{
				TransactionID: r.ID,
				Kind:          domain.ErrorKind(err),
				Error:         err.Error(),
			})
			return
		}
		if res := rentalstatus.Evaluate(r, asOf); res.Changed {
			preview.Changes = append(preview.Changes, *res)
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return preview, nil
}

func (s *rentalStatusService) OverdueSummary(ctx context.Context, asOf time.Time) (*domain.OverdueSummary, error) {
	asOf, err := normalizeAsOf(asOf)
	if err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "rentalstatus.overdue_summary")
	defer span.End()

	summary := &domain.OverdueSummary{
		AsOf:     asOf,
		ByStatus: make(map[domain.RentalHeaderStatus]int),
		Overdue:  []domain.OverdueRental{},
	}
	err = s.eachOpenRental(ctx, func(r *domain.RentalTransaction) {
		if err := r.Validate(); err != nil {
			summary.Invalid = append(summary.Invalid, domain.BatchFailure{
				TransactionID: r.ID,
				Kind:          domain.ErrorKind(err),
				Error:         err.Error(),
			})
			return
		}
		status := rentalstatus.ComputeHeaderStatus(r.Snapshots(), asOf, r.IsExtended)
		summary.Total++
		summary.ByStatus[status]++
		if status != domain.HeaderStatusLate && status != domain.HeaderStatusLatePartialReturn {
			return
		}
		outstanding := 0
		for _, l := range r.Lines {
			if !l.FullyReturned() {
				outstanding++
			}
		}
		summary.Overdue = append(summary.Overdue, domain.OverdueRental{
			TransactionID:     r.ID,
			TransactionNumber: r.TransactionNumber,
			Status:            status,
			DaysOverdue:       rentalstatus.MaxDaysOverdue(r, asOf),
			OutstandingLines:  outstanding,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(summary.Invalid) > 0 {
		logger.Warn("Open rentals failed validation in overdue summary", "count", len(summary.Invalid))
	}
	return summary, nil
}
