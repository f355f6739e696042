// Package admin serves the operational HTTP surface: health, readiness,
// Prometheus metrics and a read-only request status view.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
	"github.com/simaogato/fundpool-backend/internal/usecase/registry"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// StatusReader loads a request's status view.
type StatusReader interface {
	Status(ctx context.Context, id domain.RequestID) (*registry.StatusView, error)
}

// Handler holds the admin routes' collaborators.
type Handler struct {
	status   StatusReader
	checks   map[string]HealthCheck
	gatherer prometheus.Gatherer
	logger   *logger.Logger
}

// NewHandler creates the admin handler. checks are run by /readyz.
func NewHandler(status StatusReader, checks map[string]HealthCheck, gatherer prometheus.Gatherer, log *logger.Logger) *Handler {
	return &Handler{
		status:   status,
		checks:   checks,
		gatherer: gatherer,
		logger:   logger.OrNop(log),
	}
}

// Router builds the chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", h.handleLive)
	r.Get("/readyz", h.handleReady)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	r.Get("/v1/requests/{id}", h.handleStatus)
	return r
}

func (h *Handler) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	code := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, code, results)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := h.status.Status(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		h.logger.Error("failed to load request status",
			"request_id", id, "error", err, "http_request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(view))
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
