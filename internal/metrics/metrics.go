package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "catalog",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "provider_requests_total",
		Help:      "Total requests to catalog providers by provider name and result status.",
	}, []string{"provider", "status"})

	ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "catalog",
		Name:      "provider_request_duration_seconds",
		Help:      "Catalog provider request duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})

	ProviderAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "catalog",
		Name:      "provider_available",
		Help:      "Whether a provider is available (1) or blocked by circuit breaker (0).",
	}, []string{"provider"})

	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "cache_hits_total",
		Help:      "Total number of search cache hits by query context.",
	}, []string{"context"})

	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "cache_misses_total",
		Help:      "Total number of search cache misses by query context.",
	}, []string{"context"})

	JobsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "jobs_started_total",
		Help:      "Total background jobs started by job type.",
	}, []string{"type"})

	JobsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "jobs_finished_total",
		Help:      "Total background jobs finished by job type and terminal status.",
	}, []string{"type", "status"})

	JobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "catalog",
		Name:      "jobs_active",
		Help:      "Number of jobs currently in the active state.",
	})

	ProgressPushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalog",
		Name:      "progress_pushes_total",
		Help:      "Progress pushes by delivery outcome (sent, dropped, canceled).",
	}, []string{"outcome"})

	VisionRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "catalog",
		Name:      "vision_request_duration_seconds",
		Help:      "Vision detection request duration in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60},
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderRequestsTotal,
		ProviderRequestDuration,
		ProviderAvailable,
		CacheHitsTotal,
		CacheMissesTotal,
		JobsStartedTotal,
		JobsFinishedTotal,
		JobsActive,
		ProgressPushesTotal,
		VisionRequestDuration,
	)
}
