// Package server provides the HTTP API for kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/matcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

const defaultMaxUploadBytes = 20 << 20

// Server is the HTTP server for the kotae API.
type Server struct {
	matcher   matcher.Matcher
	config    *config.ServerConfig
	uploadDir string
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server answering through m.
func NewServer(m matcher.Matcher, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		matcher:   m,
		config:    cfg,
		uploadDir: os.TempDir(),
		logger:    utils.OrNop(logger),
	}
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/api/v1/cab/match", s.handleMatch)
		r.Get("/api/v1/cab/stats", s.handleStats)
		r.Delete("/api/v1/cab/questions/{filename}", s.handleRemove)
		r.Get("/health", s.handleHealth)
	})
	// Rebuilds embed the whole catalog and may outlive the request timeout.
	r.Post("/api/v1/cab/rebuild", s.handleRebuild)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) maxUploadBytes() int64 {
	if s.config != nil && s.config.MaxUploadBytes > 0 {
		return s.config.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}
