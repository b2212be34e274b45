// Package server provides the HTTP surface of the simulation service:
// session lifecycle, control, event streams, ledger views, risk assessment,
// and system status.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/systemiq/banknet/internal/archive"
	"github.com/systemiq/banknet/internal/config"
	"github.com/systemiq/banknet/internal/session"
)

// Config holds server dependencies.
type Config struct {
	Log     zerolog.Logger
	Cfg     *config.Config
	Manager *session.Manager
	Store   *archive.Store
	Port    int
	DevMode bool
}

// Server is the HTTP server.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	cfg     *config.Config
	manager *session.Manager
	store   *archive.Store
}

// New creates the server with middleware and routes configured.
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		cfg:     cfg.Cfg,
		manager: cfg.Manager,
		store:   cfg.Store,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: SSE and WebSocket streams are long-lived.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/simulation", func(r chi.Router) {
			r.Post("/init", s.handleInit)
			r.Get("/sessions", s.handleListSessions)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Post("/banks", s.handleCreateBank)
				r.Put("/banks/{bankID}", s.handleUpdateBank)
				r.Post("/connections", s.handleCreateConnection)

				r.Post("/start", s.handleStart)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Post("/stop", s.handleStop)
				r.Post("/step", s.handleStep)
				r.Post("/control", s.handleControl)

				r.Get("/status", s.handleStatus)
				r.Get("/stream", s.handleStream)
				r.Get("/ws", s.handleWebSocket)

				r.Get("/ledger", s.handleLedger)
				r.Get("/ledger/summary", s.handleLedgerSummary)
				r.Get("/markets/{marketID}/indicators", s.handleIndicators)
				r.Get("/risk/{bankID}", s.handleBankRisk)

				r.Delete("/", s.handleDestroy)
			})
		})

		r.Post("/risk/assess", s.handleRiskAssess)
		r.Get("/system/status", s.handleSystemStatus)
		r.Get("/archive/sessions", s.handleArchiveList)
		r.Get("/archive/sessions/{sessionID}", s.handleArchiveLoad)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session resolves the {sessionID} route parameter, writing the error
// response itself when the session does not exist.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *session.Session {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.manager.Get(id)
	if err != nil {
		s.writeError(w, err)
		return nil
	}
	return sess
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps session-layer errors to HTTP statuses, preserving the
// {error_kind, reason, state_before} shape.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var serr *session.Error
	if errors.As(err, &serr) {
		status := http.StatusConflict
		switch serr.Kind {
		case session.KindNotFound:
			status = http.StatusNotFound
		case session.KindExhausted:
			status = http.StatusTooManyRequests
		}
		s.writeJSON(w, status, serr)
		return
	}
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"reason": err.Error()})
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
