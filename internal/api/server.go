// Package api exposes the HTTP interface for the pipeline service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/config"
	"github.com/orbitlabs/orbit/internal/metrics"
	"github.com/orbitlabs/orbit/internal/pipeline"
)

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router chi.Router
	orch   *pipeline.Orchestrator
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The run endpoint
// streams server-sent events and therefore sits outside the timeout
// middleware.
func NewServer(orch *pipeline.Orchestrator, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{orch: orch, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(30 * time.Second))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
		r.Route("/v1", func(r chi.Router) {
			r.Get("/pipelines/{subject}/{variant}/cached", s.getCached)
			r.Post("/runs/{run_id}/cancel", s.cancelRun)
		})
	})
	r.Post("/v1/pipelines/{subject}/{variant}/run", s.runPipeline)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

// runPipeline starts a run and streams its progress events as SSE until the
// terminal event. Client disconnect cancels the run through the request
// context.
func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	variant := chi.URLParam(r, "variant")
	force := r.URL.Query().Get("force") == "true"

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(s.logger, w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	run, err := s.orch.Run(r.Context(), subject, variant, pipeline.RunOptions{ForceRefresh: force})
	if err != nil {
		status := http.StatusInternalServerError
		if pipeline.KindOf(err) == pipeline.KindPermanent {
			status = http.StatusBadRequest
		}
		writeError(s.logger, w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Run-ID", run.ID.String())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for evt := range run.Events() {
		if err := writeSSE(w, evt); err != nil {
			// Client is gone; cancel and drain so the run terminates.
			s.logger.Debug("sse write failed, cancelling run",
				zap.String("run_id", run.ID.String()), zap.Error(err))
			run.Cancel()
			for range run.Events() {
			}
			return
		}
		flusher.Flush()
	}
}

func (s *Server) getCached(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	variant := chi.URLParam(r, "variant")
	artifact, ok := s.orch.Cached(r.Context(), subject, variant)
	if !ok {
		writeError(s.logger, w, http.StatusNotFound, "no cached artifact")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, artifact)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid run id")
		return
	}
	if !s.orch.CancelRun(runID) {
		writeError(s.logger, w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{
		"run_id": runID.String(),
		"status": "cancelling",
	})
}
