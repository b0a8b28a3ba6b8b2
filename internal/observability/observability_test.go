package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
	"go.uber.org/zap/zaptest"

	"nmhealth-go/internal/config"
	"nmhealth-go/internal/contracts"
)

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Name() string                         { return s.name }
func (s stubChecker) HealthCheck(context.Context) error    { return s.err }
func (s stubChecker) ReadinessCheck(context.Context) error { return s.err }

func TestRecordEvaluation(t *testing.T) {
	mm := NewMetricsManager(zaptest.NewLogger(t).Sugar())

	mm.RecordEvaluation("rm1", contracts.Evaluation{
		Result:         contracts.NewAlertResult(contracts.StateWarning, "1 NodeManager is unhealthy."),
		Stage:          contracts.StageDone,
		UnhealthyHosts: []string{"nm3"},
		RosterSize:     5,
		Fallback:       true,
		Duration:       120 * time.Millisecond,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(mm.evaluations.WithLabelValues("rm1", "WARNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.alertState.WithLabelValues("rm1", "WARNING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(mm.alertState.WithLabelValues("rm1", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.unhealthyNodes.WithLabelValues("rm1")))
	assert.Equal(t, 5.0, testutil.ToFloat64(mm.rosterSize.WithLabelValues("rm1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.kerberosFallbacks.WithLabelValues("rm1")))

	// A failed fetch flips the state gauge but keeps the last known counts.
	mm.RecordEvaluation("rm1", contracts.Evaluation{
		Result: contracts.NewAlertResult(contracts.StateUnknown, "Connection failed"),
		Stage:  contracts.StageFetching,
	})
	assert.Equal(t, 0.0, testutil.ToFloat64(mm.alertState.WithLabelValues("rm1", "WARNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.alertState.WithLabelValues("rm1", "UNKNOWN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.unhealthyNodes.WithLabelValues("rm1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.kerberosFallbacks.WithLabelValues("rm1")))
}

func TestMetricsHandler_Exposition(t *testing.T) {
	mm := NewMetricsManager(zaptest.NewLogger(t).Sugar())
	mm.RecordSkipped("rm2")
	mm.RecordHistoryOperation("append", StatusSuccess)

	rec := httptest.NewRecorder()
	mm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `nmhealth_evaluations_skipped_total{target="rm2"} 1`)
	assert.Contains(t, body, `nmhealth_history_operations_total{operation="append",status="success"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestHTTPMiddleware_RecordsStatus(t *testing.T) {
	mm := NewMetricsManager(zaptest.NewLogger(t).Sugar())
	h := mm.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/alerts/x", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(mm.httpRequests.WithLabelValues("GET", "/api/v1/alerts/x", "404")))

	// Inside a router the label is the route pattern.
	r := chi.NewRouter()
	r.Use(mm.HTTPMiddleware())
	r.Get("/api/v1/alerts/{target}", func(http.ResponseWriter, *http.Request) {})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/alerts/rm1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/alerts/rm2", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(mm.httpRequests.WithLabelValues("GET", "/api/v1/alerts/{target}", "200")))
}

func TestHealthManager_Probes(t *testing.T) {
	hm := NewHealthManager(zaptest.NewLogger(t).Sugar())
	hm.AddHealthChecker(stubChecker{name: "history"})
	hm.AddReadinessChecker(stubChecker{name: "scheduler", err: errors.New("starting")})

	rec := httptest.NewRecorder()
	hm.HealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var health ProbeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, StatusHealthy, health.Status)
	require.Len(t, health.Components, 1)
	assert.Equal(t, "history", health.Components[0].Name)

	rec = httptest.NewRecorder()
	hm.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var ready ProbeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, StatusNotReady, ready.Status)
	assert.Equal(t, "starting", ready.Components[0].Error)

	assert.True(t, hm.IsHealthy())
	assert.False(t, hm.IsReady())
}

func TestDatabaseHealthChecker(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "h.db"), 0600, &bbolt.Options{Timeout: time.Second})
	require.NoError(t, err)

	open := db
	checker := NewDatabaseHealthChecker("history", func() *bbolt.DB { return open }, "alerts")
	assert.Equal(t, "history", checker.Name())
	assert.NoError(t, checker.HealthCheck(context.Background()))
	assert.EqualError(t, checker.ReadinessCheck(context.Background()), `bucket "alerts" does not exist`)

	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucket([]byte("alerts"))
		return err
	}))
	assert.NoError(t, checker.ReadinessCheck(context.Background()))

	// Closed underneath the checker.
	require.NoError(t, db.Close())
	assert.Error(t, checker.HealthCheck(context.Background()))

	open = nil
	assert.EqualError(t, checker.HealthCheck(context.Background()), "database is closed")
	assert.EqualError(t, NewDatabaseHealthChecker("x", nil, "alerts").HealthCheck(context.Background()), "no database configured")
}

func TestComponentHealthChecker(t *testing.T) {
	running := false
	c := NewComponentHealthChecker("scheduler", func() bool { return true }, func() bool { return running })
	assert.NoError(t, c.HealthCheck(context.Background()))
	assert.EqualError(t, c.ReadinessCheck(context.Background()), "scheduler is not ready")

	running = true
	assert.NoError(t, c.ReadinessCheck(context.Background()))

	assert.EqualError(t, NewComponentHealthChecker("x", nil, nil).HealthCheck(context.Background()), "x is not healthy")
}

func TestManager_DisabledFeatures(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false

	m, err := NewManager(zaptest.NewLogger(t).Sugar(), cfg, "test")
	require.NoError(t, err)
	assert.Nil(t, m.Metrics())
	assert.False(t, m.Tracing().Enabled())
	assert.NotNil(t, m.Tracer())

	// Recording without metrics is a no-op.
	m.RecordEvaluation("rm1", contracts.Evaluation{Result: contracts.NewAlertResult(contracts.StateOK)})
	m.RecordSkipped("rm1")
	m.RecordHistoryOperation("append", nil)

	rec := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.NoError(t, m.Close(context.Background()))
}

func TestManager_MetricsEndpoint(t *testing.T) {
	m, err := NewManager(zaptest.NewLogger(t).Sugar(), config.DefaultConfig(), "test")
	require.NoError(t, err)
	m.SetTargets(3)

	srv := httptest.NewServer(m.HTTPMiddleware()(m.MetricsHandler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "nmhealth_targets_total 3"))
	assert.Contains(t, string(body), "nmhealth_uptime_seconds")
}
