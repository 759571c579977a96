// Package metrics provides custom Prometheus metrics for the prefetch components.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PrefetchMetrics contains all Prometheus metrics related to the image prefetch operations.
type PrefetchMetrics struct {
	CacheSize        prometheus.Gauge
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	ImageDownloads   prometheus.Counter
	DownloadErrors   prometheus.Counter
	DownloadDuration prometheus.Histogram
	ScheduledBatches prometheus.Counter
	BatchFailures    prometheus.Counter
	registry         *prometheus.Registry
}

// NewPrefetchMetrics creates a new instance of PrefetchMetrics.
// It requires a Prometheus registry to register the metrics.
// It returns an error if metric registration fails.
func NewPrefetchMetrics(registry *prometheus.Registry) (*PrefetchMetrics, error) {
	m := &PrefetchMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register prefetch metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for PrefetchMetrics.
func (m *PrefetchMetrics) initMetrics() {
	m.CacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "imgprefetch_cache_size_bytes",
		Help: "Current size of the image cache in bytes.",
	})

	m.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imgprefetch_cache_hits_total",
		Help: "Total number of cache hits.",
	})

	m.CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imgprefetch_cache_misses_total",
		Help: "Total number of cache misses.",
	})

	m.ImageDownloads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imgprefetch_downloads_total",
		Help: "Total number of image downloads.",
	})

	m.DownloadErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imgprefetch_download_errors_total",
		Help: "Total number of image download errors.",
	})

	m.DownloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "imgprefetch_download_duration_seconds",
		Help:    "Duration of image downloads in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	m.ScheduledBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imgprefetch_scheduled_batches_total",
		Help: "Total number of preload batches dispatched by the scheduler.",
	})

	m.BatchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imgprefetch_batch_failures_total",
		Help: "Total number of individual load failures within preload batches.",
	})
}

// SetCacheSize updates the current size of the image cache in bytes.
func (m *PrefetchMetrics) SetCacheSize(sizeBytes float64) {
	m.CacheSize.Set(sizeBytes)
}

// IncrementCacheHits increases the cache hit counter by one.
func (m *PrefetchMetrics) IncrementCacheHits() {
	m.CacheHits.Inc()
}

// IncrementCacheMisses increases the cache miss counter by one.
func (m *PrefetchMetrics) IncrementCacheMisses() {
	m.CacheMisses.Inc()
}

// IncrementImageDownloads increases the image download counter by one.
func (m *PrefetchMetrics) IncrementImageDownloads() {
	m.ImageDownloads.Inc()
}

// IncrementDownloadErrors increases the download error counter by one.
func (m *PrefetchMetrics) IncrementDownloadErrors() {
	m.DownloadErrors.Inc()
}

// ObserveDownloadDuration records the duration of an image download operation.
// The duration should be provided in seconds.
func (m *PrefetchMetrics) ObserveDownloadDuration(durationSeconds float64) {
	m.DownloadDuration.Observe(durationSeconds)
}

// IncrementScheduledBatches increases the scheduled batch counter by one.
func (m *PrefetchMetrics) IncrementScheduledBatches() {
	m.ScheduledBatches.Inc()
}

// AddBatchFailures increases the batch failure counter by the given amount.
func (m *PrefetchMetrics) AddBatchFailures(n int) {
	m.BatchFailures.Add(float64(n))
}

// Collect implements the prometheus.Collector interface.
func (m *PrefetchMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.CacheSize
	ch <- m.CacheHits
	ch <- m.CacheMisses
	ch <- m.ImageDownloads
	ch <- m.DownloadErrors
	ch <- m.DownloadDuration
	ch <- m.ScheduledBatches
	ch <- m.BatchFailures
}

// Describe implements the prometheus.Collector interface.
func (m *PrefetchMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.CacheSize.Desc()
	ch <- m.CacheHits.Desc()
	ch <- m.CacheMisses.Desc()
	ch <- m.ImageDownloads.Desc()
	ch <- m.DownloadErrors.Desc()
	ch <- m.DownloadDuration.Desc()
	ch <- m.ScheduledBatches.Desc()
	ch <- m.BatchFailures.Desc()
}
