package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/opencode-ai/sharesync/internal/metrics"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Share protocol
	r.Post("/share_create", instrument("share_create", s.shareCreate))
	r.Post("/share_sync", instrument("share_sync", s.shareSync))
	r.Post("/share_delete", instrument("share_delete", s.shareDelete))
	r.Get("/share_poll", s.sharePoll) // long-lived; excluded from duration metrics
	r.Get("/share_data", instrument("share_data", s.shareData))

	// Operations
	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
}

// instrument wraps a handler with per-route request metrics.
func instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(ww, r)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// health handles GET /health.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
