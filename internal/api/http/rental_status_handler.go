package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"rental-manager-backend/internal/domain"
	"rental-manager-backend/internal/repository"
	"rental-manager-backend/internal/service"
)

const dateLayout = "2006-01-02"

// TriggerManual is the trigger recorded for recomputes requested over HTTP.
const TriggerManual = "api:manual"

// BatchRunner runs a batch recompute under the cross-process run lock.
type BatchRunner interface {
	RunRentalStatusRecompute(ctx context.Context, asOf time.Time) (*domain.BatchResult, error)
}

// RentalStatusHandler serves the rental status admin API
type RentalStatusHandler struct {
	svc   service.RentalStatusService
	batch BatchRunner
}

// NewRentalStatusHandler creates a new handler
func NewRentalStatusHandler(svc service.RentalStatusService, batch BatchRunner) *RentalStatusHandler {
	return &RentalStatusHandler{svc: svc, batch: batch}
}

type asOfRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

type extendRequest struct {
	NewEndDate string `json:"new_end_date"`
}

func (h *RentalStatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Recompute handles POST /api/v1/rentals/{id}/recompute
func (h *RentalStatusHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	id, asOf, err := h.rentalAndAsOf(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	result, err := h.svc.RecomputeTransaction(r.Context(), id, asOf, domain.ReasonManualUpdate, TriggerManual, actorFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RecordReturn handles POST /api/v1/rentals/{id}/returns, called by the
// returns subsystem once a return has been committed.
func (h *RentalStatusHandler) RecordReturn(w http.ResponseWriter, r *http.Request) {
	id, asOf, err := h.rentalAndAsOf(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	result, err := h.svc.RecomputeOnReturn(r.Context(), id, asOf, actorFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Extend handles POST /api/v1/rentals/{id}/extend
func (h *RentalStatusHandler) Extend(w http.ResponseWriter, r *http.Request) {
	id, err := rentalID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var req extendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.NewEndDate == "" {
		writeServiceError(w, r, domain.InvalidArgumentError("new_end_date is required"))
		return
	}
	newEnd, err := parseDate("new_end_date", req.NewEndDate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	result, err := h.svc.ExtendRental(r.Context(), id, newEnd, actorFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// History handles GET /api/v1/rentals/{id}/history
func (h *RentalStatusHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := rentalID(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	var lineID *uuid.UUID
	if raw := q.Get("line_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeServiceError(w, r, domain.InvalidArgumentError("invalid line_id %q", raw))
			return
		}
		lineID = &parsed
	}

	entries, err := h.svc.History(r.Context(), id, lineID, repository.SortOrder(q.Get("direction")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.StatusLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Preview handles GET /api/v1/rental-status/preview
func (h *RentalStatusHandler) Preview(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOfQuery(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	preview, err := h.svc.PreviewChanges(r.Context(), asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// OverdueSummary handles GET /api/v1/rental-status/overdue
func (h *RentalStatusHandler) OverdueSummary(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOfQuery(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	summary, err := h.svc.OverdueSummary(r.Context(), asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Batch handles POST /api/v1/rental-status/batch. The run is synchronous;
// the response is the batch report.
func (h *RentalStatusHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req asOfRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	asOf, err := h.resolveAsOf(req.AsOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	result, err := h.batch.RunRentalStatusRecompute(r.Context(), asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *RentalStatusHandler) rentalAndAsOf(w http.ResponseWriter, r *http.Request) (uuid.UUID, time.Time, error) {
	id, err := rentalID(r)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	var req asOfRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return uuid.Nil, time.Time{}, err
	}
	asOf, err := h.resolveAsOf(req.AsOf)
	if err != nil {
		return uuid.Nil, time.Time{}, err
	}
	return id, asOf, nil
}

func (h *RentalStatusHandler) asOfQuery(r *http.Request) (time.Time, error) {
	return h.resolveAsOf(r.URL.Query().Get("as_of"))
}

// resolveAsOf defaults an empty date to today in the configured timezone.
func (h *RentalStatusHandler) resolveAsOf(raw string) (time.Time, error) {
	if raw == "" {
		return h.svc.Today(), nil
	}
	return parseDate("as_of", raw)
}

func rentalID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.InvalidArgumentError("invalid rental id %q", raw)
	}
	return id, nil
}

func parseDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, domain.InvalidArgumentError("%s must be YYYY-MM-DD, got %q", field, raw)
	}
	return t, nil
}
