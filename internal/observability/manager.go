package observability

import (
	"context"
	"net/http"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"nmhealth-go/internal/config"
	"nmhealth-go/internal/contracts"
)

// History operation outcomes, used as a metric label.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ServiceName identifies this process in traces.
const ServiceName = "nmhealth"

// Manager owns the probes, metrics and tracer of one serve process.
type Manager struct {
	logger  *zap.SugaredLogger
	health  *HealthManager
	metrics *MetricsManager
	tracing *TracingManager

	startTime time.Time
}

// NewManager creates a new observability manager. Health checks are always
// on; metrics and tracing follow cfg.
func NewManager(logger *zap.SugaredLogger, cfg *config.Config, version string) (*Manager, error) {
	var tracingCfg config.TracingConfig
	if cfg.Tracing != nil {
		tracingCfg = *cfg.Tracing
	}
	tracing, err := NewTracingManager(logger, tracingCfg, ServiceName, version)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		logger:    logger,
		health:    NewHealthManager(logger),
		tracing:   tracing,
		startTime: time.Now(),
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		m.metrics = NewMetricsManager(logger)
		logger.Info("Prometheus metrics enabled")
	}
	return m, nil
}

func (m *Manager) Health() *HealthManager {
	return m.health
}

// Metrics returns the metrics manager, nil when metrics are disabled.
func (m *Manager) Metrics() *MetricsManager {
	return m.metrics
}

func (m *Manager) Tracing() *TracingManager {
	return m.tracing
}

// Tracer returns the tracer for evaluations.
func (m *Manager) Tracer() oteltrace.Tracer {
	return m.tracing.Tracer()
}

// RegisterHealthChecker adds a component to /healthz.
func (m *Manager) RegisterHealthChecker(checker HealthChecker) {
	m.health.AddHealthChecker(checker)
}

// RegisterReadinessChecker adds a component to /readyz.
func (m *Manager) RegisterReadinessChecker(checker ReadinessChecker) {
	m.health.AddReadinessChecker(checker)
}

// MetricsHandler serves /metrics, or 404 when metrics are disabled.
func (m *Manager) MetricsHandler() http.Handler {
	if m.metrics == nil {
		return http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.metrics.SetUptime(m.startTime)
		m.metrics.Handler().ServeHTTP(w, r)
	})
}

// HTTPMiddleware wraps the API in request metrics, when enabled, and then
// tracing spans.
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	traced := m.tracing.HTTPMiddleware()
	if m.metrics == nil {
		return traced
	}
	counted := m.metrics.HTTPMiddleware()
	return func(next http.Handler) http.Handler {
		return counted(traced(next))
	}
}

// RecordEvaluation records metrics for one evaluation.
func (m *Manager) RecordEvaluation(target string, eval contracts.Evaluation) {
	if m.metrics != nil {
		m.metrics.RecordEvaluation(target, eval)
	}
}

// RecordSkipped records a skipped scheduled evaluation.
func (m *Manager) RecordSkipped(target string) {
	if m.metrics != nil {
		m.metrics.RecordSkipped(target)
	}
}

// SetTargets records the number of scheduled targets.
func (m *Manager) SetTargets(n int) {
	if m.metrics != nil {
		m.metrics.SetTargets(n)
	}
}

// RecordHistoryOperation counts one append or prune on the history store.
func (m *Manager) RecordHistoryOperation(operation string, err error) {
	if m.metrics == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.metrics.RecordHistoryOperation(operation, status)
}

// Close flushes pending spans.
func (m *Manager) Close(ctx context.Context) error {
	err := m.tracing.Close(ctx)
	if err != nil {
		m.logger.Errorw("Failed to flush traces", "error", err)
	}
	return err
}
