// Package api exposes the HTTP interface for the analysis backend.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/discoverly/edgeschema/internal/config"
	"github.com/discoverly/edgeschema/internal/metrics"
	"github.com/discoverly/edgeschema/internal/pipeline"
	"github.com/discoverly/edgeschema/internal/schema"
)

// Server wires HTTP handlers to the pipeline and stores.
type Server struct {
	router   chi.Router
	pipeline *pipeline.Service
	jobs     schema.JobStore
	domains  schema.DomainStore
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	pipe *pipeline.Service,
	jobs schema.JobStore,
	domains schema.DomainStore,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pipeline: pipe,
		jobs:     jobs,
		domains:  domains,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/analyze", s.submitJob)
			r.Get("/{job_id}", s.getJob)
		})
		r.Route("/domains", func(r chi.Router) {
			r.Post("/", s.createDomain)
			r.Route("/{domain_id}", func(r chi.Router) {
				r.Get("/", s.getDomain)
				r.Get("/stats", s.getDomainStats)
				r.Get("/jobs", s.listDomainJobs)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.jobs.RecentJobs(r.Context(), 0, 1); err != nil {
		writeError(w, s.logger, http.StatusServiceUnavailable, "store not ready")
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ready"})
}

type analyzeRequest struct {
	URL         string `json:"url"`
	HTMLContent string `json:"htmlContent"`
	DomainID    int64  `json:"domainId"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" || req.HTMLContent == "" {
		writeError(w, s.logger, http.StatusBadRequest, "url and htmlContent are required")
		return
	}
	if parsed, err := url.Parse(req.URL); err != nil || parsed.Host == "" {
		writeError(w, s.logger, http.StatusBadRequest, "url must be absolute")
		return
	}

	job, err := s.pipeline.Submit(r.Context(), req.URL, req.HTMLContent, req.DomainID)
	if err != nil {
		switch {
		case errors.Is(err, schema.ErrDomainNotFound):
			writeError(w, s.logger, http.StatusNotFound, "domain not registered")
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, s.logger, http.StatusRequestTimeout, err.Error())
		default:
			writeError(w, s.logger, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, s.logger, http.StatusAccepted, map[string]string{
		"jobId":  job.ID,
		"status": "accepted",
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, s.logger, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"job": job})
}

type createDomainRequest struct {
	Name string `json:"name"`
}

func (s *Server) createDomain(w http.ResponseWriter, r *http.Request) {
	var req createDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid JSON")
		return
	}
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if name == "" || strings.ContainsAny(name, "/ ") {
		writeError(w, s.logger, http.StatusBadRequest, "name must be a bare hostname")
		return
	}
	domain, err := s.domains.CreateDomain(r.Context(), schema.Domain{Name: name})
	if err != nil {
		writeError(w, s.logger, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, s.logger, http.StatusCreated, map[string]any{"domain": domain})
}

func (s *Server) getDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := s.domainID(w, r)
	if !ok {
		return
	}
	domain, err := s.domains.GetDomain(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, http.StatusNotFound, "domain not found")
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"domain": domain})
}

func (s *Server) getDomainStats(w http.ResponseWriter, r *http.Request) {
	id, ok := s.domainID(w, r)
	if !ok {
		return
	}
	if _, err := s.domains.GetDomain(r.Context(), id); err != nil {
		writeError(w, s.logger, http.StatusNotFound, "domain not found")
		return
	}
	stats, err := s.pipeline.Stats(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) listDomainJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := s.domainID(w, r)
	if !ok {
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, s.logger, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	jobs, err := s.jobs.RecentJobs(r.Context(), id, limit)
	if err != nil {
		writeError(w, s.logger, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) domainID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "domain_id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, s.logger, http.StatusBadRequest, "invalid domain id")
		return 0, false
	}
	return id, true
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, logger, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, zap.NewNop(), http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, msg string) {
	writeJSON(w, logger, status, map[string]string{"error": msg})
}
