// Package server exposes the session facade over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deepsense-ai/deepsense/pkg/checkpoint"
	"github.com/deepsense-ai/deepsense/pkg/config"
	"github.com/deepsense-ai/deepsense/pkg/session"
)

// Server wires the HTTP surface: query execution, session management,
// health, and metrics.
type Server struct {
	service *session.Service
	store   checkpoint.Store
	cfg     config.ServerConfig
	router  chi.Router
	http    *http.Server
	logger  *slog.Logger
}

func NewServer(service *session.Service, store checkpoint.Store, cfg config.ServerConfig) *Server {
	s := &Server{
		service: service,
		store:   store,
		cfg:     cfg,
		logger:  slog.Default().With("component", "server"),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logMiddleware)
	if cfg.RequestTimeoutSeconds > 0 {
		r.Use(chimiddleware.Timeout(time.Duration(cfg.RequestTimeoutSeconds) * time.Second))
	}

	r.Post("/query", s.handleQuery)
	r.Post("/sessions", s.handleCreateSession)
	r.Get("/sessions/{sessionID}", s.handleGetSession)
	r.Get("/sessions/{sessionID}/messages", s.handleGetMessages)
	r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
	r.Get("/users/{userID}/sessions", s.handleListUserSessions)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start blocks serving HTTP until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("HTTP server listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
