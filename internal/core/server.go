// Package core provides the operational HTTP surface of the daymark
// pipeline: health probing, job stats, and authenticated manual job
// triggers. It is an internal surface for operators and the deployment
// platform, not a user-facing API.
package core

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"daymark/internal/scheduler"
	"daymark/internal/types"
)

// JobRunner is the orchestrator surface the trigger and stats endpoints
// need.
type JobRunner interface {
	TriggerNow(ctx context.Context, name scheduler.JobName) (scheduler.RunStats, error)
	Stats() map[scheduler.JobName]scheduler.JobStats
}

// Server is the ops HTTP server.
type Server struct {
	runner     JobRunner
	jobHealth  JobHealth
	probes     []HealthProbe
	opsKeyHash types.SecretString
	logger     *slog.Logger
	router     *chi.Mux
}

// ServerConfig bundles the Server constructor arguments.
type ServerConfig struct {
	Runner    JobRunner
	JobHealth JobHealth
	Probes    []HealthProbe
	// OpsKeyHash is the bcrypt hash of the manual-trigger key. Empty
	// disables the trigger endpoint entirely.
	OpsKeyHash types.SecretString
	Logger     *slog.Logger
}

// NewServer creates the ops server and mounts its routes.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		runner:     cfg.Runner,
		jobHealth:  cfg.JobHealth,
		probes:     cfg.Probes,
		opsKeyHash: cfg.OpsKeyHash,
		logger:     cfg.Logger,
		router:     chi.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.traceMiddleware)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/jobs", s.handleJobStats)
	s.router.With(s.requireOpsKey).Post("/jobs/{job}/run", s.handleJobTrigger)
}

// traceMiddleware assigns each request a trace ID for log correlation.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := types.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-Id", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireOpsKey authenticates manual triggers against the configured bcrypt
// hash. The plaintext key travels in the X-Ops-Key header.
func (s *Server) requireOpsKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := s.opsKeyHash.Unmask()
		if hash == "" {
			Error(w, r, http.StatusForbidden, types.ErrCodeAuthInvalidKey,
				"manual triggers are disabled; no ops key configured")
			return
		}

		key := r.Header.Get("X-Ops-Key")
		if key == "" {
			Error(w, r, http.StatusUnauthorized, types.ErrCodeAuthInvalidKey,
				"missing X-Ops-Key header")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			s.logger.WarnContext(r.Context(), "rejected ops request with invalid key",
				"remote_addr", r.RemoteAddr,
			)
			Error(w, r, http.StatusUnauthorized, types.ErrCodeAuthInvalidKey,
				"invalid ops key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleJobStats returns the cumulative stats of every registered job.
func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.runner.Stats())
}

// jobTriggerResponse is the JSON body of a successful manual trigger.
type jobTriggerResponse struct {
	Job      string             `json:"job"`
	Duration string             `json:"duration"`
	Stats    scheduler.RunStats `json:"stats"`
}

// handleJobTrigger runs the named job synchronously. Used for backfills
// after incidents and for poking the pipeline in development.
func (s *Server) handleJobTrigger(w http.ResponseWriter, r *http.Request) {
	name := scheduler.JobName(chi.URLParam(r, "job"))

	s.logger.InfoContext(r.Context(), "manual job trigger", "job", string(name))

	started := time.Now()
	stats, err := s.runner.TriggerNow(r.Context(), name)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "manual job trigger failed",
			"job", string(name),
			"error", err,
		)
		Error(w, r, http.StatusConflict, types.ErrCodeInternalUnexpected, err.Error())
		return
	}

	JSON(w, http.StatusOK, jobTriggerResponse{
		Job:      string(name),
		Duration: time.Since(started).String(),
		Stats:    stats,
	})
}
