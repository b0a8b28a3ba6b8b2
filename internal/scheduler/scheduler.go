// Package scheduler evaluates every configured target on its own interval and
// keeps the latest result of each in memory.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nmhealth-go/internal/alert"
	"nmhealth-go/internal/config"
	"nmhealth-go/internal/configimport"
	"nmhealth-go/internal/contracts"
	"nmhealth-go/internal/lifecycle"
	"nmhealth-go/internal/logs"
)

// PruneInterval is how often history retention is applied while running.
const PruneInterval = time.Hour

// SkippedMessage is stored for runs gated off by the lifecycle check.
const SkippedMessage = "Evaluation skipped: service is not started"

// Evaluator runs one alert evaluation.
type Evaluator interface {
	Run(ctx context.Context, inv alert.Invocation) contracts.Evaluation
}

// History persists alert records.
type History interface {
	SaveAlert(record *contracts.AlertRecord) error
	Prune(maxAge time.Duration, maxRecords int) (int, error)
}

// Recorder receives metrics about scheduled runs.
type Recorder interface {
	RecordEvaluation(target string, eval contracts.Evaluation)
	RecordSkipped(target string)
	RecordHistoryOperation(operation string, err error)
	SetTargets(n int)
}

// Tracer wraps each scheduled run in a span.
type Tracer interface {
	TraceTarget(ctx context.Context, target, hostName string) (context.Context, oteltrace.Span)
	SetSpanError(ctx context.Context, err error)
}

// Options carries the scheduler's collaborators. Only Evaluator is required.
type Options struct {
	Evaluator Evaluator
	History   History
	Metrics   Recorder
	Tracing   Tracer
	Logger    *zap.Logger

	// DefaultTimeout is used for targets without a connection.timeout parameter.
	DefaultTimeout time.Duration
	Retention      time.Duration
	MaxRecords     int

	// Hostname defaults to os.Hostname.
	Hostname func() (string, error)
	// Drivers maps a status command to a lifecycle driver; defaults to lifecycle.ForCommand.
	Drivers func(command string, logger *zap.Logger) lifecycle.Driver
}

type target struct {
	name     string
	interval time.Duration
	inv      alert.Invocation
	driver   lifecycle.Driver
	logger   *zap.Logger

	// busy holds one token while an evaluation of this target is in flight.
	busy chan struct{}
}

// Scheduler runs targets independently; a slow or failing target never
// delays another.
type Scheduler struct {
	opts    Options
	targets []*target
	logger  *zap.Logger
	running atomic.Bool

	mu     sync.RWMutex
	status map[string]*contracts.TargetStatus
}

// New resolves every target up front so configuration mistakes surface
// before anything runs.
func New(targets []*config.TargetConfig, opts Options) (*Scheduler, error) {
	if opts.Evaluator == nil {
		return nil, fmt.Errorf("scheduler needs an evaluator")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Hostname == nil {
		opts.Hostname = os.Hostname
	}
	if opts.Drivers == nil {
		opts.Drivers = lifecycle.ForCommand
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Tracing == nil {
		opts.Tracing = nopTracer{}
	}

	s := &Scheduler{
		opts:   opts,
		logger: opts.Logger.Named("scheduler"),
		status: make(map[string]*contracts.TargetStatus, len(targets)),
	}

	for _, tc := range targets {
		inv, err := BuildInvocation(tc, opts.DefaultTimeout, opts.Hostname)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", tc.Name, err)
		}
		interval := tc.Interval.Std()
		if interval <= 0 {
			return nil, fmt.Errorf("target %q: interval must be positive", tc.Name)
		}

		logger := logs.TargetLogger(s.logger, tc.Name)
		driver := opts.Drivers(tc.StatusCommand, logger)
		if cs, ok := driver.(*lifecycle.CommandStatus); ok && len(tc.StatusEnv) > 0 {
			cs.WithEnv(tc.StatusEnv)
		}
		s.targets = append(s.targets, &target{
			name:     tc.Name,
			interval: interval,
			inv:      inv,
			driver:   driver,
			logger:   logger,
			busy:     make(chan struct{}, 1),
		})
		s.status[tc.Name] = &contracts.TargetStatus{Target: tc.Name, HostName: inv.HostName}
	}

	opts.Metrics.SetTargets(len(s.targets))
	return s, nil
}

// BuildInvocation turns a target config into an evaluator invocation. File
// configurations are overlaid by inline ones; the host name falls back to
// hostname(); connection.timeout falls back to defaultTimeout.
func BuildInvocation(tc *config.TargetConfig, defaultTimeout time.Duration, hostname func() (string, error)) (alert.Invocation, error) {
	configurations := map[string]string{}
	if tc.ConfigurationsFile != "" {
		result, err := configimport.ImportFile(tc.ConfigurationsFile, nil)
		if err != nil {
			return alert.Invocation{}, err
		}
		configurations = result.Configurations
	}
	configurations = configimport.Merge(configurations, tc.Configurations)

	parameters := configimport.Merge(nil, tc.Parameters)
	if _, ok := parameters[alert.ConnectionTimeoutKey]; !ok && defaultTimeout > 0 {
		parameters[alert.ConnectionTimeoutKey] = strconv.FormatFloat(defaultTimeout.Seconds(), 'f', -1, 64)
	}

	hostName := tc.HostName
	if hostName == "" && hostname != nil {
		name, err := hostname()
		if err != nil {
			return alert.Invocation{}, fmt.Errorf("failed to determine host name: %w", err)
		}
		hostName = name
	}

	return alert.Invocation{
		Configurations: configurations,
		Parameters:     parameters,
		HostName:       hostName,
	}, nil
}

// Run evaluates every target immediately and then on its interval until ctx
// is cancelled. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler is already running")
	}
	defer s.running.Store(false)

	s.logger.Info("Scheduler started", zap.Int("targets", len(s.targets)))

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.targets {
		g.Go(func() error {
			s.loop(gctx, t)
			return nil
		})
	}
	if s.opts.History != nil {
		g.Go(func() error {
			s.pruneLoop(gctx)
			return nil
		})
	}

	err := g.Wait()
	s.logger.Info("Scheduler stopped")
	return err
}

// Running reports whether Run is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) loop(ctx context.Context, t *target) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		s.runTarget(ctx, t)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()

	for {
		s.prune()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) prune() {
	if s.opts.Retention <= 0 && s.opts.MaxRecords <= 0 {
		return
	}
	_, err := s.opts.History.Prune(s.opts.Retention, s.opts.MaxRecords)
	s.opts.Metrics.RecordHistoryOperation("prune", err)
	if err != nil {
		s.logger.Warn("Failed to prune alert history", zap.Error(err))
	}
}

// RunOnce evaluates one target now, outside its schedule.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (*contracts.AlertRecord, error) {
	for _, t := range s.targets {
		if t.name == name {
			return s.runTarget(ctx, t), nil
		}
	}
	return nil, fmt.Errorf("unknown target %q", name)
}

func (s *Scheduler) runTarget(ctx context.Context, t *target) *contracts.AlertRecord {
	// Scheduled and on-demand runs of one target are serialized; a caller
	// arriving mid-run waits for it to finish before starting its own.
	select {
	case t.busy <- struct{}{}:
	case <-ctx.Done():
		return nil
	}
	defer func() { <-t.busy }()

	if ctx.Err() != nil {
		return nil
	}

	ctx, span := s.opts.Tracing.TraceTarget(ctx, t.name, t.inv.HostName)
	defer span.End()

	started, err := t.driver.Status(ctx)
	if err != nil {
		t.logger.Warn("Status command failed, skipping evaluation", zap.Error(err))
	}
	if !started {
		span.SetAttributes(attribute.Bool("nmhealth.skipped", true))
		record := s.recordSkipped(t)
		s.opts.Tracing.SetSpanError(ctx, s.save(t, record))
		return record
	}

	eval := s.opts.Evaluator.Run(ctx, t.inv)
	record := contracts.RecordFromEvaluation(t.name, t.inv.HostName, eval, time.Now().UTC())
	span.SetAttributes(
		attribute.String("nmhealth.state", string(record.State)),
		attribute.String("nmhealth.stage", record.Stage),
	)

	s.opts.Metrics.RecordEvaluation(t.name, eval)
	s.updateStatus(t, record)
	s.opts.Tracing.SetSpanError(ctx, s.save(t, record))

	return record
}

func (s *Scheduler) recordSkipped(t *target) *contracts.AlertRecord {
	now := time.Now().UTC()
	record := &contracts.AlertRecord{
		Target:    t.name,
		HostName:  t.inv.HostName,
		State:     contracts.StateUnknown,
		Messages:  []string{SkippedMessage},
		Stage:     contracts.StageStart,
		Skipped:   true,
		Timestamp: now,
	}

	s.mu.Lock()
	s.status[t.name].LastSkipped = &now
	s.mu.Unlock()

	t.logger.Debug("Evaluation skipped, service not started")
	s.opts.Metrics.RecordSkipped(t.name)
	return record
}

func (s *Scheduler) updateStatus(t *target, record *contracts.AlertRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status[t.name]
	st.LastSkipped = nil
	st.Evaluations++

	var previous contracts.AlertState
	if st.Latest != nil {
		previous = st.Latest.State
	}
	if previous != record.State {
		since := record.Timestamp
		st.StateSince = &since
		st.PreviousState = previous
		t.logger.Info("Alert state changed",
			zap.String("from", string(previous)),
			zap.String("to", string(record.State)),
			zap.String("label", firstMessage(record.Messages)))
	}
	st.Latest = record
}

func (s *Scheduler) save(t *target, record *contracts.AlertRecord) error {
	if s.opts.History == nil {
		return nil
	}
	err := s.opts.History.SaveAlert(record)
	s.opts.Metrics.RecordHistoryOperation("append", err)
	if err != nil {
		t.logger.Warn("Failed to save alert record", zap.Error(err))
	}
	return err
}

// Status returns a snapshot of every target, sorted by name.
func (s *Scheduler) Status() []contracts.TargetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.TargetStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, copyStatus(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// TargetStatus returns a snapshot of one target.
func (s *Scheduler) TargetStatus(name string) (contracts.TargetStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.status[name]
	if !ok {
		return contracts.TargetStatus{}, false
	}
	return copyStatus(st), true
}

// Targets returns the scheduled target names in configuration order.
func (s *Scheduler) Targets() []string {
	names := make([]string, 0, len(s.targets))
	for _, t := range s.targets {
		names = append(names, t.name)
	}
	return names
}

func copyStatus(st *contracts.TargetStatus) contracts.TargetStatus {
	out := *st
	if st.Latest != nil {
		latest := *st.Latest
		out.Latest = &latest
	}
	return out
}

func firstMessage(messages []string) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[0]
}

type nopRecorder struct{}

func (nopRecorder) RecordEvaluation(string, contracts.Evaluation) {}
func (nopRecorder) RecordSkipped(string)                          {}
func (nopRecorder) RecordHistoryOperation(string, error)          {}
func (nopRecorder) SetTargets(int)                                {}

type nopTracer struct{}

func (nopTracer) TraceTarget(ctx context.Context, _, _ string) (context.Context, oteltrace.Span) {
	return ctx, oteltrace.SpanFromContext(ctx)
}

func (nopTracer) SetSpanError(context.Context, error) {}
