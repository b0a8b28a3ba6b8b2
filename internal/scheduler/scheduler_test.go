package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"nmhealth-go/internal/alert"
	"nmhealth-go/internal/config"
	"nmhealth-go/internal/contracts"
	"nmhealth-go/internal/lifecycle"
	"nmhealth-go/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedEvaluator returns states in order per host, repeating the last.
type scriptedEvaluator struct {
	mu     sync.Mutex
	states map[string][]contracts.AlertState
	calls  map[string]int
	seen   []alert.Invocation
}

func newScriptedEvaluator(states map[string][]contracts.AlertState) *scriptedEvaluator {
	return &scriptedEvaluator{states: states, calls: map[string]int{}}
}

func (e *scriptedEvaluator) Run(_ context.Context, inv alert.Invocation) contracts.Evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seen = append(e.seen, inv)
	script := e.states[inv.HostName]
	i := e.calls[inv.HostName]
	e.calls[inv.HostName]++
	if i >= len(script) {
		i = len(script) - 1
	}
	state := script[i]
	return contracts.Evaluation{
		Result:   contracts.NewAlertResult(state, "label "+string(state)),
		Stage:    contracts.StageDone,
		Duration: time.Millisecond,
	}
}

func (e *scriptedEvaluator) count(host string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[host]
}

type recorder struct {
	mu          sync.Mutex
	evaluations map[string]int
	skipped     map[string]int
	historyOps  map[string]int
	targets     int
}

func newRecorder() *recorder {
	return &recorder{evaluations: map[string]int{}, skipped: map[string]int{}, historyOps: map[string]int{}}
}

func (r *recorder) RecordEvaluation(target string, _ contracts.Evaluation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluations[target]++
}

func (r *recorder) RecordSkipped(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[target]++
}

func (r *recorder) RecordHistoryOperation(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "success"
	if err != nil {
		status = "error"
	}
	r.historyOps[op+"/"+status]++
}

func (r *recorder) SetTargets(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = n
}

type stoppedDriver struct{ lifecycle.AlwaysStarted }

func (stoppedDriver) Status(context.Context) (bool, error) { return false, nil }

type brokenDriver struct{ lifecycle.AlwaysStarted }

func (brokenDriver) Status(context.Context) (bool, error) { return false, errors.New("boom") }

func inlineTarget(name, host string) *config.TargetConfig {
	return &config.TargetConfig{
		Name:     name,
		HostName: host,
		Interval: config.Duration(time.Minute),
		Configurations: map[string]string{
			alert.HTTPAddressKey: host + ":8088",
		},
	}
}

func newHistory(t *testing.T) *storage.Manager {
	t.Helper()
	m, err := storage.NewManager(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestBuildInvocation(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rm1.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
yarn-site:
  yarn.resourcemanager.webapp.address: rm1.example.com:8088
  yarn.http.policy: HTTP_ONLY
`), 0600))

	hostname := func() (string, error) { return "local.example.com", nil }

	t.Run("file overlaid by inline", func(t *testing.T) {
		inv, err := BuildInvocation(&config.TargetConfig{
			Name:               "rm1",
			ConfigurationsFile: file,
			Configurations:     map[string]string{alert.HTTPPolicyKey: "HTTPS_ONLY"},
		}, 5*time.Second, hostname)
		require.NoError(t, err)

		assert.Equal(t, "rm1.example.com:8088", inv.Configurations[alert.HTTPAddressKey])
		assert.Equal(t, "HTTPS_ONLY", inv.Configurations[alert.HTTPPolicyKey])
		assert.Equal(t, "local.example.com", inv.HostName)
		assert.Equal(t, "5", inv.Parameters[alert.ConnectionTimeoutKey])
	})

	t.Run("explicit values win", func(t *testing.T) {
		inv, err := BuildInvocation(&config.TargetConfig{
			Name:           "rm1",
			HostName:       "nm-host",
			Configurations: map[string]string{alert.HTTPAddressKey: "rm:8088"},
			Parameters:     map[string]string{alert.ConnectionTimeoutKey: "2.5"},
		}, 5*time.Second, func() (string, error) { return "", errors.New("not called") })
		require.NoError(t, err)
		assert.Equal(t, "nm-host", inv.HostName)
		assert.Equal(t, "2.5", inv.Parameters[alert.ConnectionTimeoutKey])
	})

	t.Run("fractional default", func(t *testing.T) {
		inv, err := BuildInvocation(inlineTarget("rm1", "h"), 1500*time.Millisecond, hostname)
		require.NoError(t, err)
		assert.Equal(t, "1.5", inv.Parameters[alert.ConnectionTimeoutKey])
	})

	t.Run("hostname failure", func(t *testing.T) {
		_, err := BuildInvocation(&config.TargetConfig{Name: "rm1"}, 0, func() (string, error) {
			return "", errors.New("no hostname")
		})
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := BuildInvocation(&config.TargetConfig{
			Name:               "rm1",
			ConfigurationsFile: filepath.Join(dir, "missing.json"),
		}, 0, hostname)
		require.Error(t, err)
	})
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)

	_, err = New([]*config.TargetConfig{{Name: "rm1", ConfigurationsFile: "/does/not/exist.json", Interval: config.Duration(time.Second)}},
		Options{Evaluator: newScriptedEvaluator(nil)})
	require.ErrorContains(t, err, `target "rm1"`)

	_, err = New([]*config.TargetConfig{inlineTargetWithInterval("rm1", "h", 0)}, Options{Evaluator: newScriptedEvaluator(nil)})
	require.ErrorContains(t, err, "interval must be positive")
}

func inlineTargetWithInterval(name, host string, interval time.Duration) *config.TargetConfig {
	tc := inlineTarget(name, host)
	tc.Interval = config.Duration(interval)
	return tc
}

func TestRunOnce_TracksStateTransitions(t *testing.T) {
	eval := newScriptedEvaluator(map[string][]contracts.AlertState{
		"rm1": {contracts.StateOK, contracts.StateOK, contracts.StateCritical},
	})
	history := newHistory(t)
	metrics := newRecorder()

	s, err := New([]*config.TargetConfig{inlineTarget("rm1", "rm1")}, Options{
		Evaluator: eval,
		History:   history,
		Metrics:   metrics,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.targets)

	ctx := context.Background()
	first, err := s.RunOnce(ctx, "rm1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateOK, first.State)

	status, ok := s.TargetStatus("rm1")
	require.True(t, ok)
	require.NotNil(t, status.StateSince)
	since := *status.StateSince
	assert.Equal(t, contracts.AlertState(""), status.PreviousState)

	_, err = s.RunOnce(ctx, "rm1")
	require.NoError(t, err)
	status, _ = s.TargetStatus("rm1")
	assert.Equal(t, since, *status.StateSince)

	last, err := s.RunOnce(ctx, "rm1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateCritical, last.State)

	status, _ = s.TargetStatus("rm1")
	assert.Equal(t, contracts.StateCritical, status.Latest.State)
	assert.Equal(t, contracts.StateOK, status.PreviousState)
	assert.Equal(t, 3, status.Evaluations)
	assert.Equal(t, []string{"label CRITICAL"}, status.Latest.Messages)

	records, total, err := history.ListAlerts(storage.HistoryFilter{Target: "rm1"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, contracts.StateCritical, records[0].State)
	assert.NotEmpty(t, records[0].ID)

	assert.Equal(t, 3, metrics.evaluations["rm1"])
	assert.Equal(t, 3, metrics.historyOps["append/success"])

	_, err = s.RunOnce(ctx, "nope")
	require.Error(t, err)
}

func TestRunOnce_LifecycleGate(t *testing.T) {
	tests := []struct {
		name   string
		driver lifecycle.Driver
	}{
		{name: "stopped", driver: stoppedDriver{}},
		{name: "status error", driver: brokenDriver{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := newScriptedEvaluator(map[string][]contracts.AlertState{"rm1": {contracts.StateOK}})
			history := newHistory(t)
			metrics := newRecorder()

			tc := inlineTarget("rm1", "rm1")
			tc.StatusCommand = "systemctl is-active resourcemanager"

			s, err := New([]*config.TargetConfig{tc}, Options{
				Evaluator: eval,
				History:   history,
				Metrics:   metrics,
				Drivers: func(command string, _ *zap.Logger) lifecycle.Driver {
					assert.Equal(t, tc.StatusCommand, command)
					return tt.driver
				},
			})
			require.NoError(t, err)

			record, err := s.RunOnce(context.Background(), "rm1")
			require.NoError(t, err)
			assert.True(t, record.Skipped)
			assert.Equal(t, 0, eval.count("rm1"))
			assert.Equal(t, 1, metrics.skipped["rm1"])

			status, _ := s.TargetStatus("rm1")
			assert.Nil(t, status.Latest)
			assert.NotNil(t, status.LastSkipped)

			// Skipped runs are kept but hidden from the default listing.
			_, total, err := history.ListAlerts(storage.HistoryFilter{Target: "rm1"})
			require.NoError(t, err)
			assert.Zero(t, total)
			_, total, err = history.ListAlerts(storage.HistoryFilter{Target: "rm1", IncludeSkipped: true})
			require.NoError(t, err)
			assert.Equal(t, 1, total)
		})
	}
}

func TestRunOnce_StatusCommandEnv(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("status commands run through /bin/sh")
	}

	eval := newScriptedEvaluator(map[string][]contracts.AlertState{"rm1": {contracts.StateOK}})
	tc := inlineTarget("rm1", "rm1")
	tc.StatusCommand = `test "$YARN_ROLE" = resourcemanager`
	tc.StatusEnv = map[string]string{"YARN_ROLE": "resourcemanager"}

	s, err := New([]*config.TargetConfig{tc}, Options{Evaluator: eval, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	record, err := s.RunOnce(context.Background(), "rm1")
	require.NoError(t, err)
	assert.False(t, record.Skipped)
	assert.Equal(t, contracts.StateOK, record.State)
	assert.Equal(t, 1, eval.count("rm1"))
}

func TestRun_EvaluatesTargetsIndependently(t *testing.T) {
	eval := newScriptedEvaluator(map[string][]contracts.AlertState{
		"rm1": {contracts.StateOK},
		"rm2": {contracts.StateWarning},
	})

	s, err := New([]*config.TargetConfig{
		inlineTargetWithInterval("rm1", "rm1", 20*time.Millisecond),
		inlineTargetWithInterval("rm2", "rm2", time.Hour),
	}, Options{Evaluator: eval, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.Equal(t, []string{"rm1", "rm2"}, s.Targets())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return eval.count("rm1") >= 3 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, s.Running())
	assert.Equal(t, 1, eval.count("rm2"))
	require.Error(t, s.Run(ctx))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, s.Running())

	statuses := s.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "rm1", statuses[0].Target)
	assert.Equal(t, contracts.StateOK, statuses[0].Latest.State)
	assert.Equal(t, contracts.StateWarning, statuses[1].Latest.State)
}

// slowEvaluator tracks how many evaluations overlap.
type slowEvaluator struct {
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (e *slowEvaluator) Run(context.Context, alert.Invocation) contracts.Evaluation {
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	e.calls.Add(1)
	time.Sleep(e.delay)
	return contracts.Evaluation{
		Result: contracts.NewAlertResult(contracts.StateOK, "ok"),
		Stage:  contracts.StageDone,
	}
}

func TestRunOnce_SerializesWithScheduledRuns(t *testing.T) {
	eval := &slowEvaluator{delay: 100 * time.Millisecond}
	s, err := New([]*config.TargetConfig{inlineTargetWithInterval("rm1", "rm1", 20*time.Millisecond)},
		Options{Evaluator: eval, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return eval.calls.Load() >= 1 }, 5*time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	records := make([]*contracts.AlertRecord, 3)
	for i := range records {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, err := s.RunOnce(context.Background(), "rm1")
			assert.NoError(t, err)
			records[i] = record
		}()
	}
	wg.Wait()

	cancel()
	require.NoError(t, <-done)

	assert.EqualValues(t, 1, eval.peak.Load())
	assert.GreaterOrEqual(t, eval.calls.Load(), int32(4))
	for _, record := range records {
		require.NotNil(t, record)
		assert.Equal(t, contracts.StateOK, record.State)
	}
}

func TestRunOnce_CancelledWhileWaiting(t *testing.T) {
	eval := &slowEvaluator{delay: 200 * time.Millisecond}
	s, err := New([]*config.TargetConfig{inlineTarget("rm1", "rm1")}, Options{Evaluator: eval, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	first := make(chan *contracts.AlertRecord, 1)
	go func() {
		record, _ := s.RunOnce(context.Background(), "rm1")
		first <- record
	}()
	require.Eventually(t, func() bool { return eval.inFlight.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	record, err := s.RunOnce(ctx, "rm1")
	require.NoError(t, err)
	assert.Nil(t, record)

	require.NotNil(t, <-first)
	assert.EqualValues(t, 1, eval.calls.Load())
}

type failingHistory struct{ pruned int }

func (h *failingHistory) SaveAlert(*contracts.AlertRecord) error { return errors.New("disk full") }
func (h *failingHistory) Prune(time.Duration, int) (int, error) {
	h.pruned++
	return 0, nil
}

func TestHistoryFailuresAreNotFatal(t *testing.T) {
	eval := newScriptedEvaluator(map[string][]contracts.AlertState{"rm1": {contracts.StateOK}})
	metrics := newRecorder()
	history := &failingHistory{}

	s, err := New([]*config.TargetConfig{inlineTarget("rm1", "rm1")}, Options{
		Evaluator: eval,
		History:   history,
		Metrics:   metrics,
		Retention: time.Hour,
	})
	require.NoError(t, err)

	record, err := s.RunOnce(context.Background(), "rm1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StateOK, record.State)
	assert.Equal(t, 1, metrics.historyOps["append/error"])

	s.prune()
	assert.Equal(t, 1, history.pruned)
	assert.Equal(t, 1, metrics.historyOps["prune/success"])
}

type spanTracer struct {
	tracer oteltrace.Tracer
}

func (s spanTracer) TraceTarget(ctx context.Context, target, _ string) (context.Context, oteltrace.Span) {
	return s.tracer.Start(ctx, "scheduler.run", oteltrace.WithAttributes(attribute.String("nmhealth.target", target)))
}

func (s spanTracer) SetSpanError(ctx context.Context, err error) {
	if err != nil {
		oteltrace.SpanFromContext(ctx).SetStatus(codes.Error, err.Error())
	}
}

func TestRunOnce_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	eval := newScriptedEvaluator(map[string][]contracts.AlertState{"rm1": {contracts.StateCritical}})
	s, err := New([]*config.TargetConfig{inlineTarget("rm1", "rm1")}, Options{
		Evaluator: eval,
		History:   &failingHistory{},
		Tracing:   spanTracer{tracer: provider.Tracer("test")},
	})
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background(), "rm1")
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "scheduler.run", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("nmhealth.state", "CRITICAL"))
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "disk full", spans[0].Status().Description)
}
