// Package metrics exposes the Prometheus instrumentation for the share
// server. Metrics are package-level so the coordinator and HTTP layer
// can update them without plumbing a registry around.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Share lifecycle
	SharesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sharesync_shares_created_total",
			Help: "Total number of shares created",
		},
	)

	Publishes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sharesync_publishes_total",
			Help: "Total number of accepted share_sync writes",
		},
	)

	// Viewer fan-out
	ViewersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sharesync_viewers_connected",
			Help: "Number of currently attached viewers",
		},
	)

	FramesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sharesync_frames_sent_total",
			Help: "Total number of frames delivered to viewer buffers",
		},
	)

	FramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sharesync_frames_dropped_total",
			Help: "Total number of frames dropped because a viewer was slow",
		},
	)

	ViewerEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sharesync_viewer_evictions_total",
			Help: "Total number of viewers evicted for repeated slow sends",
		},
	)

	// HTTP surface
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sharesync_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sharesync_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(SharesCreated)
	prometheus.MustRegister(Publishes)
	prometheus.MustRegister(ViewersConnected)
	prometheus.MustRegister(FramesSent)
	prometheus.MustRegister(FramesDropped)
	prometheus.MustRegister(ViewerEvictions)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
