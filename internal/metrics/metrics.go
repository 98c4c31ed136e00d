package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/stratalloc/pkg/walkforward"
)

// Cache lookup and publish outcome labels (bounded set)
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Walk-forward metrics
var (
	// WindowsOptimized counts windows that produced an allocation
	WindowsOptimized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratalloc_windows_optimized_total",
			Help: "Total number of walk-forward windows optimized",
		},
		[]string{"algorithm", "metric"},
	)

	// WindowFailures counts windows whose optimization failed
	WindowFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratalloc_window_failures_total",
			Help: "Total number of walk-forward windows that failed",
		},
		[]string{"algorithm", "metric"},
	)

	// WindowDuration tracks time spent per window
	WindowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratalloc_window_duration_seconds",
			Help:    "Time spent optimizing one window",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"algorithm", "metric"},
	)

	// BestFitness is the best in-sample fitness of the most recent run
	BestFitness = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratalloc_best_fitness",
			Help: "Best in-sample fitness seen in the current run",
		},
		[]string{"algorithm", "metric"},
	)

	// CacheLookups counts window cache lookups by result
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratalloc_cache_lookups_total",
			Help: "Window result cache lookups",
		},
		[]string{"result"},
	)
)

// Run metrics
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratalloc_runs_total",
			Help: "Total number of optimization runs by final status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stratalloc_run_duration_seconds",
			Help:    "Wall time of a full walk-forward run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		},
	)

	StrategiesAllocated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratalloc_strategies_allocated",
			Help: "Strategies with a non-zero latest allocation",
		},
	)

	// RunsByStatus is refreshed from the database by the Updater
	RunsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratalloc_runs_by_status",
			Help: "Stored optimization runs by status",
		},
		[]string{"status"},
	)

	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratalloc_notifications_total",
			Help: "Allocation update notifications by result",
		},
		[]string{"result"},
	)
)

// API metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratalloc_api_request_duration_ms",
			Help:    "API request duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"method", "path", "status"},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratalloc_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)
)

// RecordAPIRequest records an API request
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	APIRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordRun records the outcome of a whole run
func RecordRun(success bool, duration time.Duration, allocated int) {
	status := ResultSuccess
	if !success {
		status = ResultFailure
	}
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(duration.Seconds())
	if success {
		StrategiesAllocated.Set(float64(allocated))
	}
}

// RecordNotification records a publish attempt
func RecordNotification(err error) {
	if err != nil {
		NotificationsPublished.WithLabelValues(ResultFailure).Inc()
		return
	}
	NotificationsPublished.WithLabelValues(ResultSuccess).Inc()
}

// Collector reports walk-forward progress for one algorithm and metric.
// It implements walkforward.Observer.
type Collector struct {
	algorithm string
	metric    string

	best *bestValue
}

// NewCollector creates a collector and resets the best fitness gauge
func NewCollector(algorithm, metric string) *Collector {
	c := &Collector{algorithm: algorithm, metric: metric, best: &bestValue{}}
	BestFitness.DeleteLabelValues(algorithm, metric)
	return c
}

var _ walkforward.Observer = (*Collector)(nil)

// WindowCompleted implements walkforward.Observer
func (c *Collector) WindowCompleted(result walkforward.WindowResult, duration time.Duration) {
	WindowsOptimized.WithLabelValues(c.algorithm, c.metric).Inc()
	WindowDuration.WithLabelValues(c.algorithm, c.metric).Observe(duration.Seconds())
	if best, changed := c.best.offer(result.Fitness); changed {
		BestFitness.WithLabelValues(c.algorithm, c.metric).Set(best)
	}
}

// WindowFailed implements walkforward.Observer
func (c *Collector) WindowFailed(_ walkforward.Window, _ error) {
	WindowFailures.WithLabelValues(c.algorithm, c.metric).Inc()
}

// CacheLookup implements walkforward.Observer
func (c *Collector) CacheLookup(hit bool) {
	if hit {
		CacheLookups.WithLabelValues(ResultHit).Inc()
		return
	}
	CacheLookups.WithLabelValues(ResultMiss).Inc()
}
