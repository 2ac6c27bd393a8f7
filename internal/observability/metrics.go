package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// ProviderCallsTotal counts IDV provider calls by endpoint and outcome.
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Total number of IDV provider calls by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)
	// ProviderCallDuration records IDV provider call durations by endpoint.
	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "IDV provider call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	// WorkerCyclesTotal is registered for worker cycles by outcome; nothing in
	// this module increments it, so it stays at zero.
	WorkerCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_cycles_total",
			Help: "Total number of per-binding worker cycles run",
		},
		[]string{"outcome"},
	)
	// LockAcquisitionsTotal is registered for binding lock acquisition
	// attempts; nothing in this module increments it, so it stays at zero.
	LockAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_acquisitions_total",
			Help: "Total number of binding lock acquisition attempts",
		},
		[]string{"result"},
	)
	// ActiveWorkersGauge is registered for the number of RUNNING or PAUSED
	// bindings; nothing in this module sets it, so it stays at zero.
	ActiveWorkersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Number of bindings with a desired state of RUNNING or PAUSED",
		},
	)
)

var registered bool

// InitMetrics registers all collectors with the default Prometheus registry.
// Safe to call once per process.
func InitMetrics() {
	if registered {
		return
	}
	registered = true
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderCallsTotal,
		ProviderCallDuration,
		WorkerCyclesTotal,
		LockAcquisitionsTotal,
		ActiveWorkersGauge,
	)
}

// HTTPMetricsMiddleware records request count and duration per route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur.Seconds())
	})
}
