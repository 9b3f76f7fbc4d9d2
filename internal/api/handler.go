// Package api is the HTTP control surface over the flock manager.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wesleyorama2/mobu/internal/config"
	"github.com/wesleyorama2/mobu/internal/flock"
	"github.com/wesleyorama2/mobu/internal/manager"
)

const maxBodySize = 1 << 20

// Registry is the part of the manager the API drives.
type Registry interface {
	Create(ctx context.Context, cfg flock.Config) (flock.Summary, error)
	Delete(ctx context.Context, name string) error
	List() []string
	Get(name string) (flock.Detail, error)
	SummarizeFlocks() []flock.Summary
}

// Handler serves the /mobu routes.
type Handler struct {
	registry Registry
	logger   zerolog.Logger
}

// NewHandler creates a handler over registry.
func NewHandler(registry Registry, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/mobu/flocks", h.CreateFlock).Methods("PUT")
	r.HandleFunc("/mobu/flocks", h.ListFlocks).Methods("GET")
	r.HandleFunc("/mobu/flocks/{flock}", h.GetFlock).Methods("GET")
	r.HandleFunc("/mobu/flocks/{flock}", h.DeleteFlock).Methods("DELETE")
	r.HandleFunc("/mobu/summary", h.Summary).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// NewRouter builds the full router, including /metrics from gatherer.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	r.Use(h.logRequests)
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("elapsed", time.Since(start)).
			Msg("Request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail locates one problem in a flock specification.
type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// CreateFlock handles PUT /mobu/flocks.
func (h *Handler) CreateFlock(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", nil)
		return
	}

	if verrs := validateFlock(body); verrs != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid flock specification", verrs)
		return
	}

	var cfg flock.Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
		return
	}

	summary, err := h.registry.Create(r.Context(), cfg)
	if err != nil {
		var specErr *manager.SpecificationError
		switch {
		case errors.Is(err, manager.ErrFlockExists):
			writeError(w, http.StatusConflict, err.Error(), nil)
		case errors.As(err, &specErr):
			writeError(w, http.StatusUnprocessableEntity, err.Error(), specErr.Errors)
		case errors.Is(err, manager.ErrShutdown):
			writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
		default:
			h.logger.Error().Err(err).Str("flock", cfg.Name).Msg("Failed to create flock")
			writeError(w, http.StatusInternalServerError, err.Error(), nil)
		}
		return
	}

	w.Header().Set("Location", "/mobu/flocks/"+summary.Name)
	writeJSON(w, http.StatusCreated, summary)
}

// ListFlocks handles GET /mobu/flocks.
func (h *Handler) ListFlocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

// GetFlock handles GET /mobu/flocks/{flock}.
func (h *Handler) GetFlock(w http.ResponseWriter, r *http.Request) {
	detail, err := h.registry.Get(mux.Vars(r)["flock"])
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// DeleteFlock handles DELETE /mobu/flocks/{flock}.
func (h *Handler) DeleteFlock(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), mux.Vars(r)["flock"]); err != nil {
		h.writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Summary handles GET /mobu/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.SummarizeFlocks())
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, manager.ErrFlockNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	h.logger.Error().Err(err).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, err.Error(), nil)
}

func writeError(w http.ResponseWriter, status int, msg string, verrs *config.ValidationErrors) {
	resp := ErrorResponse{Error: msg}
	if verrs != nil {
		for _, e := range verrs.Errors {
			resp.Details = append(resp.Details, ErrorDetail{Field: e.Field, Message: e.Message})
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
