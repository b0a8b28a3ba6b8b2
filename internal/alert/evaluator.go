package alert

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"nmhealth-go/internal/contracts"
	"nmhealth-go/internal/health"
	"nmhealth-go/internal/jmx"
	"nmhealth-go/internal/kerberos"
	"nmhealth-go/internal/transport"
)

// Options carries the evaluator's collaborators. Nil fields get defaults:
// an anonymous transport.Client, the gokrb5 requester, the OS temp
// directory, a no-op logger and a no-op tracer.
type Options struct {
	HTTP     transport.Fetcher
	Kerberos kerberos.Requester
	TempDirs kerberos.TempDirProvider
	Logger   *zap.Logger
	Tracer   oteltrace.Tracer
}

// Evaluator runs the NodeManager health summary alert. Apart from Kerberos
// sessions held by its requester it keeps no state between invocations, and
// it is safe for concurrent use.
type Evaluator struct {
	http     transport.Fetcher
	kerberos kerberos.Requester
	tempDirs kerberos.TempDirProvider
	logger   *zap.Logger
	tracer   oteltrace.Tracer
}

// New creates an evaluator.
func New(opts Options) *Evaluator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Evaluator{
		http:     opts.HTTP,
		kerberos: opts.Kerberos,
		tempDirs: opts.TempDirs,
		logger:   logger.Named("evaluator"),
		tracer:   opts.Tracer,
	}
	if e.http == nil {
		e.http = transport.NewClient(transport.DefaultClientConfig(), logger)
	}
	if e.kerberos == nil {
		e.kerberos = kerberos.NewSPNEGORequester(kerberos.SPNEGOConfig{}, nil, logger)
	}
	if e.tempDirs == nil {
		e.tempDirs = kerberos.OSTempDir{}
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("nmhealth/alert")
	}
	return e
}

// Close releases the Kerberos sessions cached by the requester, if any.
func (e *Evaluator) Close() error {
	if c, ok := e.kerberos.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Evaluate returns exactly one AlertResult for the invocation.
func (e *Evaluator) Evaluate(ctx context.Context, inv Invocation) contracts.AlertResult {
	return e.Run(ctx, inv).Result
}

// run tracks the progress of one evaluation.
type run struct {
	stage    string
	fallback bool
	span     oteltrace.Span
}

func (r *run) enter(stage string) {
	r.stage = stage
	r.span.AddEvent(stage)
}

// Run evaluates the invocation and reports the stage reached next to the
// result. Failures of any kind become UNKNOWN; a panic is recovered the same
// way.
func (e *Evaluator) Run(ctx context.Context, inv Invocation) (eval contracts.Evaluation) {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "alert.evaluate",
		oteltrace.WithAttributes(attribute.String("alert.host", inv.HostName)))
	defer span.End()

	r := &run{stage: contracts.StageStart, span: span}

	defer func() {
		if rec := recover(); rec != nil {
			err := newError(KindInternal, nil, "evaluation failed: %v", rec)
			e.logger.Error("Recovered from panic during evaluation",
				zap.String("host", inv.HostName),
				zap.String("stage", r.stage),
				zap.Any("panic", rec))
			eval = e.failed(r, err)
		}
		eval.Duration = time.Since(start)
		span.SetAttributes(
			attribute.String("alert.state", string(eval.Result.State)),
			attribute.String("alert.stage", eval.Stage),
			attribute.Bool("alert.fallback", eval.Fallback))
	}()

	summary, err := e.evaluate(ctx, inv, r)
	if err != nil {
		return e.failed(r, err)
	}

	r.enter(contracts.StageDone)
	return contracts.Evaluation{
		Result:         summary.Result,
		Stage:          contracts.StageDone,
		UnhealthyHosts: summary.UnhealthyHosts,
		RosterSize:     summary.RosterSize,
		Fallback:       r.fallback,
	}
}

func (e *Evaluator) failed(r *run, err error) contracts.Evaluation {
	e.logger.Debug("Evaluation returned UNKNOWN",
		zap.String("kind", string(KindOf(err))),
		zap.String("stage", r.stage),
		zap.Error(err))
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, string(KindOf(err)))

	return contracts.Evaluation{
		Result:   contracts.NewAlertResult(contracts.StateUnknown, err.Error()),
		Stage:    r.stage,
		Fallback: r.fallback,
	}
}

func (e *Evaluator) evaluate(ctx context.Context, inv Invocation, r *run) (health.Summary, error) {
	r.enter(contracts.StageResolving)
	resolved, err := Resolve(inv)
	if err != nil {
		return health.Summary{}, err
	}

	var roster []jmx.RosterEntry
	if resolved.Security != nil {
		roster, err = e.fetchKerberos(ctx, resolved, r)
	} else {
		roster, err = e.fetchAnonymous(ctx, resolved, r)
	}
	if err != nil {
		return health.Summary{}, err
	}

	r.enter(contracts.StageAggregating)
	return health.Calculate(roster), nil
}

func (e *Evaluator) fetchAnonymous(ctx context.Context, resolved *Resolved, r *run) ([]jmx.RosterEntry, error) {
	url := resolved.Endpoint.QueryURL()

	r.enter(contracts.StageFetching)
	resp, err := e.http.Fetch(ctx, url, resolved.Timeout)
	if err != nil {
		return nil, newError(KindTransport, err, "Connection failed to %s: %v", url, err)
	}

	r.enter(contracts.StageDecoding)
	roster, err := jmx.DecodeRoster(resp.Body)
	if err != nil {
		e.logger.Debug("Unable to decode roster",
			zap.String("url", url),
			zap.Int("body_size", len(resp.Body)),
			zap.Error(err))
		return nil, wrapError(KindDecode, err)
	}
	return roster, nil
}

// fetchKerberos tries a lightweight request first. When its body can't be
// decoded, a raw request tells a metrics-less answer apart from a failure.
func (e *Evaluator) fetchKerberos(ctx context.Context, resolved *Resolved, r *run) ([]jmx.RosterEntry, error) {
	url := resolved.Endpoint.QueryURL()

	tmpDir, err := e.tempDirs.TempDir()
	if err != nil {
		e.logger.Debug("No temp directory for credential caches", zap.Error(err))
		tmpDir = ""
	}
	req := kerberos.Request{
		Keytab:      resolved.Security.Keytab,
		Principal:   resolved.Security.Principal,
		URL:         url,
		CachePrefix: kerberosCachePrefix,
		CallerLabel: Name,
		TempDir:     tmpDir,
		Timeout:     resolved.Timeout,
	}

	r.enter(contracts.StageFetching)
	resp, err := e.kerberos.Get(ctx, req, kerberos.ModeLightweight)
	switch {
	case err == nil:
		r.enter(contracts.StageDecoding)
		roster, decodeErr := jmx.DecodeRoster(resp.Body)
		if decodeErr == nil {
			return roster, nil
		}
		e.logger.Debug("Unable to decode kerberos response, retrying raw",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
			zap.Int("body_size", len(resp.Body)),
			zap.Error(decodeErr))
	case errors.Is(err, kerberos.ErrAuthentication):
		return nil, wrapError(KindAuthentication, err)
	default:
		// Only an undecodable body earns the raw retry.
		return nil, newError(KindTransport, err, "Connection failed to %s: %v", url, err)
	}

	r.fallback = true
	r.enter(contracts.StageFetching)
	raw, err := e.kerberos.Get(ctx, req, kerberos.ModeRaw)
	if err != nil {
		if errors.Is(err, kerberos.ErrAuthentication) {
			return nil, wrapError(KindAuthentication, err)
		}
		return nil, newError(KindTransport, err, "Connection failed to %s: %v", url, err)
	}

	r.enter(contracts.StageDecoding)
	if metricsUnavailable(raw.StatusCode) {
		return nil, newError(KindDecode, jmx.ErrDecode, "HTTP %d response (metrics unavailable)", raw.StatusCode)
	}
	return nil, newError(KindUnexpectedStatus, nil,
		"[Alert][%s] Getting data from %s failed with http code %d", Name, url, raw.StatusCode)
}

func metricsUnavailable(statusCode int) bool {
	return statusCode == http.StatusOK || statusCode == http.StatusTemporaryRedirect
}
