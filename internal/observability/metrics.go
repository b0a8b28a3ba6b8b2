package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"nmhealth-go/internal/contracts"
)

// MetricsManager owns a private Prometheus registry with the process,
// API and evaluation metrics.
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	// Core metrics
	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	targetsTotal prometheus.Gauge

	// Alert metrics
	evaluations        *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	unhealthyNodes     *prometheus.GaugeVec
	rosterSize         *prometheus.GaugeVec
	alertState         *prometheus.GaugeVec
	kerberosFallbacks  *prometheus.CounterVec
	skipped            *prometheus.CounterVec
	historyOps         *prometheus.CounterVec
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	registry := prometheus.NewRegistry()

	mm := &MetricsManager{
		logger:   logger,
		registry: registry,
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

// initMetrics initializes all Prometheus metrics
func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nmhealth_uptime_seconds",
		Help: "Time since the application started",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nmhealth_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nmhealth_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.targetsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nmhealth_targets_total",
		Help: "Number of scheduled ResourceManager targets",
	})

	mm.evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nmhealth_evaluations_total",
			Help: "Total number of alert evaluations by resulting state",
		},
		[]string{"target", "state"},
	)

	mm.evaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nmhealth_evaluation_duration_seconds",
			Help:    "Alert evaluation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"target"},
	)

	mm.unhealthyNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nmhealth_unhealthy_nodemanagers",
			Help: "NodeManagers reported UNHEALTHY in the latest evaluation",
		},
		[]string{"target"},
	)

	mm.rosterSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nmhealth_roster_nodemanagers",
			Help: "NodeManagers listed in the latest roster",
		},
		[]string{"target"},
	)

	mm.alertState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nmhealth_alert_state",
			Help: "1 for the current alert state of a target, 0 for the others",
		},
		[]string{"target", "state"},
	)

	mm.kerberosFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nmhealth_kerberos_fallbacks_total",
			Help: "Evaluations that fell back to the raw Kerberos request",
		},
		[]string{"target"},
	)

	mm.skipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nmhealth_evaluations_skipped_total",
			Help: "Scheduled evaluations skipped because the lifecycle status check failed",
		},
		[]string{"target"},
	)

	mm.historyOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nmhealth_history_operations_total",
			Help: "Total number of alert history operations",
		},
		[]string{"operation", "status"},
	)
}

// registerMetrics registers all metrics with the registry
func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.targetsTotal,
		mm.evaluations,
		mm.evaluationDuration,
		mm.unhealthyNodes,
		mm.rosterSize,
		mm.alertState,
		mm.kerberosFallbacks,
		mm.skipped,
		mm.historyOps,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns the Prometheus metrics HTTP handler
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the underlying registry, mainly for tests.
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime updates the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// RecordHTTPRequest records an HTTP request metric
func (mm *MetricsManager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, path, status).Inc()
	mm.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// SetTargets updates the scheduled target count.
func (mm *MetricsManager) SetTargets(n int) {
	mm.targetsTotal.Set(float64(n))
}

// RecordEvaluation records the outcome of one evaluation of target.
func (mm *MetricsManager) RecordEvaluation(target string, eval contracts.Evaluation) {
	state := string(eval.Result.State)
	mm.evaluations.WithLabelValues(target, state).Inc()
	mm.evaluationDuration.WithLabelValues(target).Observe(eval.Duration.Seconds())

	for _, s := range contracts.AllStates {
		v := 0.0
		if s == eval.Result.State {
			v = 1
		}
		mm.alertState.WithLabelValues(target, string(s)).Set(v)
	}

	// Counts are only meaningful once the roster was decoded.
	if eval.Stage == contracts.StageDone {
		mm.unhealthyNodes.WithLabelValues(target).Set(float64(len(eval.UnhealthyHosts)))
		mm.rosterSize.WithLabelValues(target).Set(float64(eval.RosterSize))
	}

	if eval.Fallback {
		mm.kerberosFallbacks.WithLabelValues(target).Inc()
	}
}

// RecordSkipped records a scheduled evaluation that did not run.
func (mm *MetricsManager) RecordSkipped(target string) {
	mm.skipped.WithLabelValues(target).Inc()
}

// RecordHistoryOperation records an alert history operation
func (mm *MetricsManager) RecordHistoryOperation(operation, status string) {
	mm.historyOps.WithLabelValues(operation, status).Inc()
}

// HTTPMiddleware counts API requests by method, route and status.
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			mm.RecordHTTPRequest(r.Method, routeOf(r), strconv.Itoa(statusOf(ww)), time.Since(start))
		})
	}
}

// routeOf returns the matched chi route pattern, or the raw path outside a
// chi router. Patterns keep per-target paths from multiplying label values.
func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}
