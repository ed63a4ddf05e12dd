// Package server implements the qualityloop HTTP API server.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dwsmith1983/qualityloop/internal/server/handlers"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// Defaults applied to zero-valued server settings.
const (
	DefaultMaxRequestBody int64 = 1 << 20
	DefaultControlRate          = 1.0
	DefaultControlBurst         = 5
)

// Server is the qualityloop HTTP API server.
type Server struct {
	ctrl    handlers.Controller
	metrics http.Handler
	logger  *slog.Logger
	router  chi.Router
	cfg     types.ServerConfig
	srv     *http.Server
}

// New creates a new HTTP server. metrics may be nil, in which case
// /metrics is not mounted.
func New(cfg types.ServerConfig, ctrl handlers.Controller, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestBody <= 0 {
		cfg.MaxRequestBody = DefaultMaxRequestBody
	}
	if cfg.ControlRate <= 0 {
		cfg.ControlRate = DefaultControlRate
	}
	if cfg.ControlBurst <= 0 {
		cfg.ControlBurst = DefaultControlBurst
	}
	s := &Server{
		ctrl:    ctrl,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(APIKeyMiddleware(cfg.APIKey))
	r.Use(MaxBodyMiddleware(cfg.MaxRequestBody))

	s.router = r
	s.registerRoutes(r)
	return s
}

// Handler exposes the router, mainly for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests. It returns http.ErrServerClosed after Stop.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("qualityloop server listening", "addr", s.cfg.Addr)
	return s.srv.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
