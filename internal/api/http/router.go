package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"rental-manager-backend/internal/config"
	"rental-manager-backend/internal/security"
)

// NewRouter wires the admin API routes, auth and request logging.
func NewRouter(h *RentalStatusHandler, tm security.TokenManager) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet).Name(config.RouteHealth)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rentals/{id}/recompute", h.Recompute).Methods(http.MethodPost).Name(config.RouteRecompute)
	api.HandleFunc("/rentals/{id}/returns", h.RecordReturn).Methods(http.MethodPost).Name(config.RouteReturn)
	api.HandleFunc("/rentals/{id}/extend", h.Extend).Methods(http.MethodPost).Name(config.RouteExtend)
	api.HandleFunc("/rentals/{id}/history", h.History).Methods(http.MethodGet).Name(config.RouteHistory)
	api.HandleFunc("/rental-status/preview", h.Preview).Methods(http.MethodGet).Name(config.RoutePreview)
	api.HandleFunc("/rental-status/overdue", h.OverdueSummary).Methods(http.MethodGet).Name(config.RouteOverdueSummary)
	api.HandleFunc("/rental-status/batch", h.Batch).Methods(http.MethodPost).Name(config.RouteBatch)

	r.Use(NewAuthMiddleware(tm).Middleware)

	var handler http.Handler = r
	handler = recoverMiddleware(handler)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}
