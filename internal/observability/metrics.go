// Package observability provides Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vodkeep"

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Job metrics
	JobsEnqueued  prometheus.Counter
	JobsCompleted *prometheus.CounterVec
	JobsActive    prometheus.Gauge
	JobsQueued    prometheus.Gauge
	JobDuration   prometheus.Histogram
	JobErrors     *prometheus.CounterVec

	// Segment metrics
	SegmentsDownloaded prometheus.Counter
	SegmentRetries     prometheus.Counter
	SegmentFailures    prometheus.Counter
	SegmentBytes       prometheus.Counter
	SegmentDuration    prometheus.Histogram

	// Encoder metrics
	MuxDuration prometheus.Histogram
	MuxFailures prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec
}

// New creates all application metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on the default handler.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	metrics := &Metrics{
		gatherer: gatherer,

		// Job metrics
		JobsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "enqueued_total",
			Help:      "Total number of jobs enqueued",
		}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total number of jobs that left the active slot, by terminal status",
		}, []string{"status"}),
		JobsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Number of jobs currently holding the active slot",
		}),
		JobsQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "queued",
			Help:      "Number of jobs waiting for the active slot",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Histogram of job run duration in seconds",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}),
		JobErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "errors_total",
			Help:      "Total number of failed jobs by error type",
		}, []string{"error_type"}),

		// Segment metrics
		SegmentsDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "segments",
			Name:      "downloaded_total",
			Help:      "Total number of segments written to disk",
		}),
		SegmentRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "segments",
			Name:      "retries_total",
			Help:      "Total number of segment fetch retries",
		}),
		SegmentFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "segments",
			Name:      "failures_total",
			Help:      "Total number of segments that failed after all retries",
		}),
		SegmentBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "segments",
			Name:      "bytes_total",
			Help:      "Total segment bytes downloaded",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "segments",
			Name:      "fetch_duration_seconds",
			Help:      "Histogram of successful segment fetch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Encoder metrics
		MuxDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "muxer",
			Name:      "duration_seconds",
			Help:      "Histogram of encoder run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		MuxFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "muxer",
			Name:      "failures_total",
			Help:      "Total number of failed encoder runs",
		}),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Histogram of HTTP response sizes in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
		}, []string{"method", "path"}),
	}

	return metrics
}

// Handler returns the Prometheus HTTP handler for the registry the metrics were created with.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// JobTimer returns a function to record job duration.
func (m *Metrics) JobTimer() func() {
	start := time.Now()

	return func() {
		if m == nil {
			return
		}

		m.JobDuration.Observe(time.Since(start).Seconds())
	}
}

// MuxTimer returns a function to record encoder run duration.
func (m *Metrics) MuxTimer() func() {
	start := time.Now()

	return func() {
		if m == nil {
			return
		}

		m.MuxDuration.Observe(time.Since(start).Seconds())
	}
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, size int) {
	if m == nil {
		return
	}

	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordJobEnqueued increments the enqueued counter.
func (m *Metrics) RecordJobEnqueued() {
	if m == nil {
		return
	}

	m.JobsEnqueued.Inc()
}

// RecordJobCompleted records a job leaving the active slot with the given terminal status.
func (m *Metrics) RecordJobCompleted(status string) {
	if m == nil {
		return
	}

	m.JobsCompleted.WithLabelValues(status).Inc()
}

// RecordJobError records a failed job by error type.
func (m *Metrics) RecordJobError(errorType string) {
	if m == nil {
		return
	}

	m.JobErrors.WithLabelValues(errorType).Inc()
}

// SetQueueDepth sets the active and queued gauges.
func (m *Metrics) SetQueueDepth(active, queued int) {
	if m == nil {
		return
	}

	m.JobsActive.Set(float64(active))
	m.JobsQueued.Set(float64(queued))
}

// RecordSegment records a segment written to disk.
func (m *Metrics) RecordSegment(bytes int64, duration time.Duration) {
	if m == nil {
		return
	}

	m.SegmentsDownloaded.Inc()
	m.SegmentBytes.Add(float64(bytes))
	m.SegmentDuration.Observe(duration.Seconds())
}

// RecordSegmentRetry records a retried segment fetch.
func (m *Metrics) RecordSegmentRetry() {
	if m == nil {
		return
	}

	m.SegmentRetries.Inc()
}

// RecordSegmentFailure records a segment that exhausted its retries.
func (m *Metrics) RecordSegmentFailure() {
	if m == nil {
		return
	}

	m.SegmentFailures.Inc()
}

// RecordMuxFailure records a failed encoder run.
func (m *Metrics) RecordMuxFailure() {
	if m == nil {
		return
	}

	m.MuxFailures.Inc()
}
