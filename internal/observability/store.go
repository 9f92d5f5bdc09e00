package observability

import (
	"context"
	"time"

	"gatekeeper/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStore wraps a ratelimit.BucketStore with OpenTelemetry tracing
// and metrics instrumentation.
type InstrumentedStore struct {
	inner    ratelimit.BucketStore
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStore creates a store wrapper that records trace spans,
// operation latency histograms, and error counters for every store call.
func NewInstrumentedStore(inner ratelimit.BucketStore) (*InstrumentedStore, error) {
	tracer := otel.Tracer("gatekeeper/store")
	meter := otel.Meter("gatekeeper/store")

	duration, err := meter.Float64Histogram(
		"store.operation.duration",
		metric.WithDescription("Duration of bucket store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"store.operation.errors",
		metric.WithDescription("Number of bucket store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "store."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("store.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStore) Check(ctx context.Context, key string, now time.Time, policy ratelimit.Policy) (bool, error) {
	ctx, span := s.startSpan(ctx, "Check", attribute.String("bucket.key", key))
	start := time.Now()
	allowed, err := s.inner.Check(ctx, key, now, policy)
	span.SetAttributes(attribute.Bool("bucket.allowed", allowed))
	s.record(ctx, span, "Check", start, err)
	return allowed, err
}

func (s *InstrumentedStore) Tokens(ctx context.Context, key string, now time.Time, policy ratelimit.Policy) (float64, error) {
	ctx, span := s.startSpan(ctx, "Tokens", attribute.String("bucket.key", key))
	start := time.Now()
	tokens, err := s.inner.Tokens(ctx, key, now, policy)
	s.record(ctx, span, "Tokens", start, err)
	return tokens, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
