package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access control
	LoginAttemptsTotal      *prometheus.CounterVec
	RateLimitedTotal        *prometheus.CounterVec
	TokenVerificationsTotal *prometheus.CounterVec
	GateDecisionsTotal      *prometheus.CounterVec
	SessionsActive          prometheus.Gauge

	// Storage
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	CacheHitsTotal           *prometheus.CounterVec
	CacheMissesTotal         *prometheus.CounterVec

	// Documents
	DocumentOperationsTotal *prometheus.CounterVec
	DocumentBytesUploaded   prometheus.Counter

	// Webhooks
	WebhookDeliveriesTotal *prometheus.CounterVec

	// Background jobs
	MaintenanceRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all portal metrics on registry
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_login_attempts_total",
				Help: "Password login attempts by outcome",
			},
			[]string{"outcome"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_rate_limited_total",
				Help: "Requests rejected by the login rate limiter",
			},
			[]string{"backend"},
		),
		TokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_token_verifications_total",
				Help: "Zero-trust token verifications by result",
			},
			[]string{"result"},
		),
		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_gate_decisions_total",
				Help: "Session gate decisions by required role and outcome",
			},
			[]string{"required", "decision"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portal_sessions_active",
				Help: "Unexpired local sessions seen at the last sweep",
			},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_storage_operations_total",
				Help: "Total number of key-value storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_storage_operation_duration_seconds",
				Help:    "Key-value storage operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation", "backend"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		DocumentOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_document_operations_total",
				Help: "Document operations by action and status",
			},
			[]string{"action", "status"},
		),
		DocumentBytesUploaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portal_document_bytes_uploaded_total",
				Help: "Bytes accepted by document uploads",
			},
		),

		WebhookDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_webhook_deliveries_total",
				Help: "Webhook delivery attempts by resulting status",
			},
			[]string{"status"},
		),

		MaintenanceRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_maintenance_runs_total",
				Help: "Maintenance job runs by job and status",
			},
			[]string{"job", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.RateLimitedTotal,
		m.TokenVerificationsTotal,
		m.GateDecisionsTotal,
		m.SessionsActive,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocumentOperationsTotal,
		m.DocumentBytesUploaded,
		m.WebhookDeliveriesTotal,
		m.MaintenanceRunsTotal,
	)

	return m
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel uses the mux route template so path parameters do not explode
// label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests. A nil metrics is a no-op.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
