package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	permissionChecks *prometheus.CounterVec
	sessionsSwept    prometheus.Counter
	batchFlushSize   prometheus.Histogram
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_http_requests_total",
		Help: "Number of HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atlas_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	permissionChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_permission_checks_total",
		Help: "Number of permission checks by outcome.",
	}, []string{"outcome"})
	sessionsSwept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atlas_sessions_swept_total",
		Help: "Number of expired sessions deactivated by the sweep job.",
	})
	batchFlushSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlas_permission_batch_flush_size",
		Help:    "Number of coalesced checks per permission batch flush.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	})
	registry.MustRegister(requests, duration, permissionChecks, sessionsSwept, batchFlushSize)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		permissionChecks: permissionChecks,
		sessionsSwept:    sessionsSwept,
		batchFlushSize:   batchFlushSize,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObservePermissionCheck counts one allow/deny decision.
func (m *Metrics) ObservePermissionCheck(allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.permissionChecks.WithLabelValues(outcome).Inc()
}

// ObserveSessionsSwept counts sessions deactivated by the sweep job.
func (m *Metrics) ObserveSessionsSwept(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.sessionsSwept.Add(float64(count))
}

// ObserveBatchFlush records the size of one permission batch flush.
func (m *Metrics) ObserveBatchFlush(size int) {
	if m == nil {
		return
	}
	m.batchFlushSize.Observe(float64(size))
}

// CacheSnapshot carries one cache's counters for gauge export.
type CacheSnapshot struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// RegisterPermissionCache exports a cache's hit/miss/size counters as gauges
// evaluated on scrape. name distinguishes the result and role caches.
func (m *Metrics) RegisterPermissionCache(name string, snapshot func() CacheSnapshot) {
	if m == nil || snapshot == nil {
		return
	}
	labels := prometheus.Labels{"cache": name}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "atlas_permission_cache_hits",
			Help:        "Permission cache hits since start or last reset.",
			ConstLabels: labels,
		}, func() float64 { return float64(snapshot().Hits) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "atlas_permission_cache_misses",
			Help:        "Permission cache misses since start or last reset.",
			ConstLabels: labels,
		}, func() float64 { return float64(snapshot().Misses) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "atlas_permission_cache_entries",
			Help:        "Current number of cached permission entries.",
			ConstLabels: labels,
		}, func() float64 { return float64(snapshot().Entries) }),
	)
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
