// Package server provides the HTTP surface of the share service: a
// thin chi router over the coordinator registry. Every route resolves a
// shareName, grabs that share's actor, and delegates; the server itself
// holds no per-session state.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/opencode-ai/sharesync/internal/coordinator"
	"github.com/opencode-ai/sharesync/internal/viewer"
)

// Config holds server configuration.
type Config struct {
	Listen     string
	EnableCORS bool

	ReadTimeout time.Duration
	// WriteTimeout must stay zero: share_poll connections are long-lived
	// and a server-level write deadline would sever them.
	WriteTimeout time.Duration

	// Viewer tunes the per-connection websocket behavior.
	Viewer viewer.Options
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      ":4096",
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
		Viewer:      viewer.DefaultOptions(),
	}
}

// Server is the HTTP server.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	registry *coordinator.Registry
}

// New creates a new Server over the given coordinator registry.
func New(cfg *Config, registry *coordinator.Registry) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		registry: registry,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		// The web viewer is served from a different origin than the API.
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server. The coordinator registry
// is shut down first so attached viewers get a close frame instead of
// a dropped TCP connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.Shutdown(ctx)
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router, for tests that drive the handlers
// through httptest without a listener.
func (s *Server) Router() *chi.Mux {
	return s.router
}
