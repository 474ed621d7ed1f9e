package imagecache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the fetch cache.
type Metrics struct {
	Registry      *prometheus.Registry
	FetchesTotal  *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	BytesTotal    prometheus.Counter
	RetriesTotal  prometheus.Counter
	ErrorsTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagecache_fetches_total",
			Help: "Image cache outcomes by result.",
		},
		[]string{"result"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imagecache_fetch_duration_seconds",
			Help:    "Time spent downloading one image.",
			Buckets: prometheus.DefBuckets,
		},
	)
	bytesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imagecache_bytes_written_total",
			Help: "Bytes written to the cache directory.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imagecache_retries_total",
			Help: "Total number of retry attempts issued by the transport.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagecache_errors_total",
			Help: "Failed image fetches by error type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(fetches, duration, bytesTotal, retries, errorsTotal)

	return &Metrics{
		Registry:      registry,
		FetchesTotal:  fetches,
		FetchDuration: duration,
		BytesTotal:    bytesTotal,
		RetriesTotal:  retries,
		ErrorsTotal:   errorsTotal,
	}
}

// IncFetch counts one finished URL under its result label.
func (m *Metrics) IncFetch(result string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(result).Inc()
}

// ObserveDownload records the duration and size of a completed download.
func (m *Metrics) ObserveDownload(d time.Duration, n int64) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
	m.BytesTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
