package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/database"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/engine"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/models"
)

// Server is the thin reporting/trigger surface over the sync engine.
type Server struct {
	orch  *engine.Orchestrator
	conns *database.Manager
	jobs  map[string]models.SyncJob // keyed by source
	log   zerolog.Logger
}

func New(orch *engine.Orchestrator, conns *database.Manager, jobs []models.SyncJob, log zerolog.Logger) *Server {
	bySource := make(map[string]models.SyncJob, len(jobs))
	for _, job := range jobs {
		bySource[job.SourceKey] = job
	}
	return &Server{
		orch:  orch,
		conns: conns,
		jobs:  bySource,
		log:   log.With().Str("component", "http").Logger(),
	}
}

// Router wires the HTTP surface. Mutating endpoints sit behind JWT auth;
// health and stats stay open.
func (s *Server) Router(jwtSecret string) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/health", s.handleHealth)
	router.Get("/stats", s.handleStats)

	router.Group(func(r chi.Router) {
		r.Use(requireAuth(jwtSecret))
		r.Post("/sync/{source}", s.handleTrigger)
		r.Post("/snapshot/{source}/rebuild", s.handleRebuild)
	})

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	health := map[string]string{}
	for _, key := range s.conns.Keys() {
		if err := s.conns.Ping(ctx, key); err != nil {
			health[key] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			health[key] = "ok"
		}
	}
	health["cycle_active"] = map[bool]string{true: "true", false: "false"}[s.orch.Active()]

	writeJSON(w, status, health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Stats().Snapshot())
}

// handleTrigger runs one cycle immediately for the named source, honoring
// the same no-overlap invariant as the scheduled trigger.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs[chi.URLParam(r, "source")]
	if !ok {
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}

	result, err := s.orch.RunCycle(r.Context(), job)
	if errors.Is(err, models.ErrCycleInFlight) {
		http.Error(w, "a cycle is already running", http.StatusConflict)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRebuild force-rebuilds the stored snapshot for a source, bypassing
// diffing. ?from=destination reads the destination's current content (the
// recovery path); the default reads the source.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs[chi.URLParam(r, "source")]
	if !ok {
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}

	fromDestination := r.URL.Query().Get("from") == "destination"
	rows, err := s.orch.ForceSnapshot(r.Context(), job, fromDestination)
	if errors.Is(err, models.ErrCycleInFlight) {
		http.Error(w, "a cycle is already running", http.StatusConflict)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": job.SourceKey, "rows": rows})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
