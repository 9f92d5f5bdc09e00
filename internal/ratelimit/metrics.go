package ratelimit

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments for admission decisions.
// A nil *Metrics is valid and records nothing, so callers never have to
// guard their recording sites.
type Metrics struct {
	tokensRemaining metric.Float64Gauge
	requests        metric.Int64Counter
	limited         metric.Int64Counter
	storeFailures   metric.Int64Counter
}

// NewMetrics creates the admission control instruments on the global meter
// provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("gatekeeper/ratelimit")

	tokensRemaining, err := meter.Float64Gauge(
		"ratelimit.tokens.remaining",
		metric.WithDescription("Tokens remaining in the bucket after the latest decision"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	requests, err := meter.Int64Counter(
		"ratelimit.requests",
		metric.WithDescription("Requests passing through admission control, by response status"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	limited, err := meter.Int64Counter(
		"ratelimit.hits",
		metric.WithDescription("Requests rejected by admission control"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	storeFailures, err := meter.Int64Counter(
		"ratelimit.store.failures",
		metric.WithDescription("Bucket store operations that failed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		tokensRemaining: tokensRemaining,
		requests:        requests,
		limited:         limited,
		storeFailures:   storeFailures,
	}, nil
}

// RecordDecision records the post-decision token level for a route and user.
func (m *Metrics) RecordDecision(ctx context.Context, route, user string, remaining float64) {
	if m == nil {
		return
	}
	m.tokensRemaining.Record(ctx, remaining, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("user", user),
	))
}

// RecordRequest counts a request through admission control with its final
// response status.
func (m *Metrics) RecordRequest(ctx context.Context, route string, status int) {
	if m == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	))
}

// RecordLimited counts a request rejected for exceeding its bucket.
func (m *Metrics) RecordLimited(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.limited.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
	))
}

// RecordStoreFailure counts a failed store operation.
func (m *Metrics) RecordStoreFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.storeFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}
