package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"nmhealth-go/internal/config"
)

// TracingManager exports evaluation and API spans over OTLP/HTTP. A disabled
// manager hands out a no-op tracer and its middleware does nothing.
type TracingManager struct {
	logger   *zap.SugaredLogger
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider
}

func NewTracingManager(logger *zap.SugaredLogger, cfg config.TracingConfig, serviceName, serviceVersion string) (*TracingManager, error) {
	if !cfg.Enabled {
		logger.Debug("OpenTelemetry tracing disabled")
		return &TracingManager{logger: logger, tracer: noop.NewTracerProvider().Tracer(serviceName)}, nil
	}

	ctx := context.Background()
	// The exporter dials lazily; an unreachable collector only drops spans.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("describe tracing resource: %w", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Infow("OpenTelemetry tracing initialized",
		"service_name", serviceName,
		"otlp_endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate)
	return newTracingManager(logger, provider, serviceName), nil
}

func newTracingManager(logger *zap.SugaredLogger, provider *trace.TracerProvider, serviceName string) *TracingManager {
	return &TracingManager{logger: logger, tracer: provider.Tracer(serviceName), provider: provider}
}

// Enabled reports whether spans are exported.
func (tm *TracingManager) Enabled() bool {
	return tm.provider != nil
}

// Tracer returns the tracer handed to the evaluator.
func (tm *TracingManager) Tracer() oteltrace.Tracer {
	return tm.tracer
}

// Close flushes buffered spans and stops the exporter.
func (tm *TracingManager) Close(ctx context.Context) error {
	if tm.provider == nil {
		return nil
	}
	tm.logger.Info("Shutting down OpenTelemetry tracing")
	return tm.provider.Shutdown(ctx)
}

// TraceTarget starts the span wrapping one scheduled run of a target.
func (tm *TracingManager) TraceTarget(ctx context.Context, target, hostName string) (context.Context, oteltrace.Span) {
	return tm.tracer.Start(ctx, "scheduler.run", oteltrace.WithAttributes(
		attribute.String("nmhealth.target", target),
		attribute.String("nmhealth.host", hostName),
	))
}

// SetSpanError marks the span in ctx as failed. A nil err is ignored.
func (tm *TracingManager) SetSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// HTTPMiddleware opens a server span per API request, continuing a W3C trace
// context sent by the client. Spans are named after the chi route pattern.
func (tm *TracingManager) HTTPMiddleware() func(http.Handler) http.Handler {
	if tm.provider == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	propagator := otel.GetTextMapPropagator()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tm.tracer.Start(ctx, r.Method+" "+r.URL.Path,
				oteltrace.WithSpanKind(oteltrace.SpanKindServer),
				oteltrace.WithAttributes(
					semconv.HTTPMethodKey.String(r.Method),
					semconv.HTTPTargetKey.String(r.URL.Path),
					semconv.HTTPHostKey.String(r.Host),
					semconv.HTTPUserAgentKey.String(r.UserAgent()),
				),
			)
			defer span.End()
			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			r = r.WithContext(ctx)
			next.ServeHTTP(ww, r)

			status := statusOf(ww)
			span.SetName(r.Method + " " + routeOf(r))
			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}
}
