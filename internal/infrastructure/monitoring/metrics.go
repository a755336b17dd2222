// Package monitoring provides Prometheus metrics for the generation pipeline
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// MetricsCollector handles Prometheus metrics collection
type MetricsCollector struct {
	logger *zap.Logger

	// Pipeline metrics
	chunksProcessedTotal  prometheus.Counter
	recordsEmittedTotal   *prometheus.CounterVec
	duplicatesDroppedTotal prometheus.Counter
	streamsFinishedTotal  *prometheus.CounterVec
	streamDuration        *prometheus.HistogramVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger: logger,

		chunksProcessedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_chunks_processed_total",
				Help: "Total number of raw model chunks accumulated",
			},
		),
		recordsEmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_records_emitted_total",
				Help: "Total number of structured records emitted",
			},
			[]string{"data_type"},
		),
		duplicatesDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_duplicates_dropped_total",
				Help: "Total number of complete elements dropped for duplicate identifiers",
			},
		),
		streamsFinishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streams_finished_total",
				Help: "Total number of streams by terminal outcome",
			},
			[]string{"outcome"},
		),
		streamDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stream_duration_seconds",
				Help:    "End to end stream duration in seconds",
				Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
			[]string{"outcome"},
		),

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// ChunkProcessed counts one accumulated chunk
func (m *MetricsCollector) ChunkProcessed() {
	m.chunksProcessedTotal.Inc()
}

// RecordEmitted counts one emitted record for the data type
func (m *MetricsCollector) RecordEmitted(dataType string) {
	m.recordsEmittedTotal.WithLabelValues(dataType).Inc()
}

// DuplicateDropped counts one element dropped for a duplicate identifier
func (m *MetricsCollector) DuplicateDropped() {
	m.duplicatesDroppedTotal.Inc()
}

// StreamFinished records a terminal stream outcome and its duration
func (m *MetricsCollector) StreamFinished(outcome string, duration time.Duration) {
	m.streamsFinishedTotal.WithLabelValues(outcome).Inc()
	m.streamDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordHTTPRequest records metrics for one HTTP request
func (m *MetricsCollector) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, statusCode).Observe(duration.Seconds())
}
