package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lazypower/thoughtloop/internal/engine"
	"github.com/lazypower/thoughtloop/internal/llm"
	"github.com/lazypower/thoughtloop/internal/metrics"
	"github.com/lazypower/thoughtloop/internal/session"
	"go.uber.org/zap"
)

// Server is the thoughtloop HTTP API server. It reaches loop state only
// through the engine.
type Server struct {
	engine  *engine.Engine
	metrics *metrics.Metrics
	logger  *zap.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server around eng.
func New(eng *engine.Engine, m *metrics.Metrics, logger *zap.Logger, version string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  eng,
		metrics: m,
		logger:  logger,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/step", s.handleStep)
		r.Post("/speak", s.handleSpeak)
		r.Post("/reset", s.handleReset)
		r.Post("/settings", s.handleSettings)

		r.Get("/feed", s.handleFeed)
		r.Get("/thoughts", s.handleThoughts)
		r.Get("/contamination", s.handleContamination)
		r.Post("/detox", s.handleDetox)

		r.Get("/snapshots", s.handleListSnapshots)
		r.Post("/snapshots", s.handleSaveSnapshot)
		r.Get("/snapshots/{name}", s.handleGetSnapshot)
		r.Post("/snapshots/{name}/load", s.handleLoadSnapshot)
		r.Delete("/snapshots/{name}", s.handleDeleteSnapshot)

		r.Get("/protocols", s.handleProtocols)
		r.Post("/protocol", s.handleSetProtocol)
	})
	r.Handle("/metrics", s.metrics.Handler())

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"alive":   st.Alive,
		"log":     st.LogPath,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine and store sentinels onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrBusy), errors.Is(err, engine.ErrRunning), errors.Is(err, engine.ErrNotRunning):
		code = http.StatusConflict
	case errors.Is(err, session.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		code = http.StatusNotFound
	case errors.Is(err, session.ErrMalformed):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrUnknownProtocol):
		code = http.StatusBadRequest
	case errors.Is(err, llm.ErrUnavailable):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("api: request failed", zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}
