package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"rental-manager-backend/internal/domain"
	"rental-manager-backend/internal/jobs"
	"rental-manager-backend/internal/lock"
	"rental-manager-backend/internal/logger"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.ErrorKind(err)
	var status int
	switch {
	case errors.Is(err, jobs.ErrDisabled):
		status, kind = http.StatusServiceUnavailable, "disabled"
	case errors.Is(err, lock.ErrNotAcquired):
		status, kind = http.StatusConflict, "batch_running"
	case kind == "not_found":
		status = http.StatusNotFound
	case kind == "invalid_argument":
		status = http.StatusBadRequest
	case kind == "concurrency_conflict":
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "kind", kind, "error", err)
		writeError(w, status, kind, "internal server error")
		return
	}
	writeError(w, status, kind, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.InvalidArgumentError("malformed request body: %v", err)
	}
	return nil
}
