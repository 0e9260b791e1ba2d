// Package metrics provides Prometheus instrumentation for the API and
// the streaming pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "folio_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// StreamsActive tracks chat exchanges currently streaming.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "folio_streams_active",
			Help: "Number of chat exchanges currently streaming",
		},
	)

	// StreamDuration tracks full exchange duration by terminal state.
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "folio_stream_duration_seconds",
			Help:    "Chat exchange duration from first frame to terminal",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "model", "state"},
	)

	// FramesTotal tracks frames written to clients by type.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_frames_total",
			Help: "SSE frames written to clients",
		},
		[]string{"type"},
	)

	// ToolCallsTotal tracks tool invocations by outcome.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_tool_calls_total",
			Help: "Tool invocations requested by models",
		},
		[]string{"tool", "outcome"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "folio_conversations_total",
			Help: "Conversations created",
		},
	)

	// FilesIngested tracks documents added to project knowledge.
	FilesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "folio_files_ingested_total",
			Help: "Documents ingested into project knowledge",
		},
	)
)

// RecordRequest records metrics for one HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStream records a finished exchange with its terminal state.
func RecordStream(provider, model, state string, duration float64) {
	StreamDuration.WithLabelValues(provider, model, state).Observe(duration)
}
