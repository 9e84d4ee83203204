package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evochat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evochat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Generation metrics
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evochat_requests_total",
			Help: "Model requests by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: standard, thinking, fast, creative, speech, transcription
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evochat_request_duration_seconds",
			Help:    "Model request duration",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	StreamFragments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evochat_stream_fragments_total",
			Help: "Streamed response fragments received",
		},
	)

	// Storage metrics
	SnapshotWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evochat_snapshot_writes_total",
			Help: "Durable snapshot writes",
		},
		[]string{"result"}, // "ok" or "error"
	)

	LoadedChats = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evochat_loaded_chats",
			Help: "Chat states currently held in memory",
		},
	)

	// Bot metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evochat_rate_limit_hits_total",
			Help: "Inbound updates rejected by the rate limiter",
		},
	)
)
