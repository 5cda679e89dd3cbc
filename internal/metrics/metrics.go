// Package metrics exposes the Prometheus metrics emitted by the task
// management subsystem and its collaborators.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge/histogram the core and its collaborators
// update. It is constructed once per process and passed down by reference.
type Metrics struct {
	SubmittedTasks prometheus.Counter
	ProcessedTasks prometheus.Counter
	FailedTasks    prometheus.Counter
	TaskRetries    prometheus.Counter
	ActiveWorkers  prometheus.Gauge
	TaskStatus     *prometheus.GaugeVec
	StageDuration  *prometheus.HistogramVec

	FetchErrors      *prometheus.CounterVec
	CircuitBreaker   *prometheus.GaugeVec
	HostHealth       *prometheus.GaugeVec
	RateLimiterWait  prometheus.Histogram
	HTTPRequestTotal *prometheus.CounterVec

	StoreUpserts prometheus.Counter
	StoreErrors  *prometheus.CounterVec

	NotifyAttempts *prometheus.CounterVec
}

// New builds and registers every metric against reg. Tests should construct
// a fresh prometheus.NewRegistry() per run rather than sharing the default
// global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmittedTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submitted_tasks",
			Help: "Total number of tasks accepted by submit_task/submit_batch.",
		}),
		ProcessedTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processed_tasks",
			Help: "Total number of tasks that reached a terminal state.",
		}),
		FailedTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "failed_tasks",
			Help: "Total number of tasks that finished in the Failed state.",
		}),
		TaskRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "task_retries",
			Help: "Total number of retry attempts taken across all tasks.",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Number of worker goroutines currently running.",
		}),
		TaskStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "task_status",
			Help: "Number of tasks currently in each status.",
		}, []string{"state"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "task_stage_duration_seconds",
			Help:    "Duration of the fetch and parse stages of task processing.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetch_errors_total",
			Help: "Fetch errors by kind.",
		}, []string{"kind"}),
		CircuitBreaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Transport circuit breaker state per host (0=closed, 1=half_open, 2=open).",
		}, []string{"host"}),
		HostHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "host_health_state",
			Help: "Host health level (0=healthy, 1=degraded, 2=suspended).",
		}, []string{"host"}),
		RateLimiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rate_limiter_wait_seconds",
			Help:    "Time spent waiting on the per-host rate limiter before a fetch.",
			Buckets: prometheus.DefBuckets,
		}),
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP API requests by path and status code.",
		}, []string{"path", "status"}),
		StoreUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "store_upserts_total",
			Help: "Total number of podcast/episode upserts committed to the store.",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Store operation failures by operation.",
		}, []string{"op"}),
		NotifyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_attempts_total",
			Help: "Post-completion notification attempts by sink and outcome.",
		}, []string{"sink", "outcome"}),
	}

	reg.MustRegister(
		m.SubmittedTasks,
		m.ProcessedTasks,
		m.FailedTasks,
		m.TaskRetries,
		m.ActiveWorkers,
		m.TaskStatus,
		m.StageDuration,
		m.FetchErrors,
		m.CircuitBreaker,
		m.HostHealth,
		m.RateLimiterWait,
		m.HTTPRequestTotal,
		m.StoreUpserts,
		m.StoreErrors,
		m.NotifyAttempts,
	)

	return m
}

// Handler returns the promhttp handler serving metrics registered on reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// HTTPMiddleware wraps next, recording a request count per path and status
// code.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.HTTPRequestTotal.WithLabelValues(r.URL.Path, statusBucket(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func statusBucket(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
