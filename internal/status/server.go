package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/rentdesk/internal/core/domain"
	"github.com/vietddude/rentdesk/internal/core/fault"
	"github.com/vietddude/rentdesk/internal/infra/storage"
)

// Health is the overall state reported by /health.
type Health string

const (
	StatusHealthy      Health = "healthy"
	StatusDegraded     Health = "degraded"
	StatusUnconfigured Health = "unconfigured"
)

// Report is the /health response body.
type Report struct {
	Status   Health   `json:"status"`
	Snapshot Snapshot `json:"connection"`
}

// Server provides HTTP endpoints for connection status and the data API.
type Server struct {
	observer *Observer
	mux      *http.ServeMux
	server   *http.Server
	log      *slog.Logger
}

// NewServer creates a new status server.
func NewServer(observer *Observer, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		observer: observer,
		mux:      mux,
		log:      logger,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /status/reconnect", s.handleReconnect)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) report(ctx context.Context) Report {
	snap := s.observer.Snapshot()
	if snap.Configured && snap.Online && !snap.Connected {
		// Throttled by the guardian, so repeated polling stays cheap.
		s.observer.CheckConnection(ctx)
		snap = s.observer.Snapshot()
	}

	status := StatusHealthy
	switch {
	case !snap.Configured:
		status = StatusUnconfigured
	case !snap.Connected:
		status = StatusDegraded
	}
	return Report{Status: status, Snapshot: snap}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.report(r.Context())
	code := http.StatusOK
	if report.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.observer.sync())
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s.observer.CheckConnection(r.Context())
	writeJSON(w, http.StatusOK, s.observer.Snapshot())
}

// Resource is the CRUD surface exposed under /api/{name}.
type Resource[T any] interface {
	Create(ctx context.Context, v T) (T, error)
	Get(ctx context.Context, id string) (T, error)
	List(ctx context.Context, q storage.Query) ([]T, error)
	Update(ctx context.Context, id string, v T) (T, error)
	Delete(ctx context.Context, id string) error
}

// Register mounts CRUD routes for svc. Query parameters named in filters
// become equality filters on List.
func Register[T any](s *Server, name string, svc Resource[T], filters ...string) {
	h := &crud[T]{svc: svc, filters: filters, log: s.log.With("resource", name)}
	base := "/api/" + name
	s.mux.HandleFunc("GET "+base, h.list)
	s.mux.HandleFunc("POST "+base, h.create)
	s.mux.HandleFunc("GET "+base+"/{id}", h.get)
	s.mux.HandleFunc("PATCH "+base+"/{id}", h.patch)
	s.mux.HandleFunc("DELETE "+base+"/{id}", h.delete)
}

type crud[T any] struct {
	svc     Resource[T]
	filters []string
	log     *slog.Logger
}

func (h *crud[T]) list(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	var q storage.Query
	for _, col := range h.filters {
		if v := params.Get(col); v != "" {
			q = q.Eq(col, v)
		}
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, h.log, badRequest("limit must be a non-negative integer"))
			return
		}
		q.Limit = n
	}

	items, err := h.svc.List(r.Context(), q)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *crud[T]) create(w http.ResponseWriter, r *http.Request) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, h.log, badRequest("invalid JSON body: "+err.Error()))
		return
	}
	out, err := h.svc.Create(r.Context(), v)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *crud[T]) get(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// patch merges the JSON body onto the current entity.
func (h *crud[T]) patch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	current, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&current); err != nil {
		writeError(w, h.log, badRequest("invalid JSON body: "+err.Error()))
		return
	}
	out, err := h.svc.Update(r.Context(), id, current)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *crud[T]) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

type errorBody struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

// StatusCode maps an operation error to an HTTP status.
func StatusCode(err error) int {
	var reqErr *requestError
	var verr *domain.ValidationError
	var apiErr *fault.APIError
	switch {
	case errors.As(err, &reqErr), errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, fault.ErrNotFound):
		return http.StatusNotFound
	case fault.Classify(err) != fault.Fatal:
		return http.StatusServiceUnavailable
	case fault.IsConflict(err):
		return http.StatusConflict
	case errors.As(err, &apiErr) && apiErr.Status >= 400:
		return apiErr.Status
	default:
		return http.StatusBadRequest
	}
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	code := StatusCode(err)
	if code >= 500 {
		log.Warn("Request failed", "status", code, "error", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Class: fault.Classify(err).String()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
