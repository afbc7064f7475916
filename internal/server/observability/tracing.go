package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SyncMetrics instruments for pull and push
type SyncMetrics struct {
	pushDuration metric.Float64Histogram
	pushOutcomes metric.Int64Counter
	pullChanges  metric.Int64Counter
	failures     metric.Int64Counter
}

// NewSyncMetrics creates instruments on the global meter provider
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	pushDuration, err := meter.Float64Histogram(
		"sync.push.duration",
		metric.WithDescription("Push batch processing time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	pushOutcomes, err := meter.Int64Counter(
		"sync.push.outcomes",
		metric.WithDescription("Per-entity push outcomes by status"),
		metric.WithUnit("{changes}"),
	)
	if err != nil {
		return nil, err
	}

	pullChanges, err := meter.Int64Counter(
		"sync.pull.changes",
		metric.WithDescription("Changes returned by pull"),
		metric.WithUnit("{changes}"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"sync.failures",
		metric.WithDescription("Failed sync operations by kind"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		pushDuration: pushDuration,
		pushOutcomes: pushOutcomes,
		pullChanges:  pullChanges,
		failures:     failures,
	}, nil
}

// RecordPush records batch duration and outcome counts keyed by status
func (m *SyncMetrics) RecordPush(ctx context.Context, duration time.Duration, outcomes map[string]int) {
	if m == nil {
		return
	}
	m.pushDuration.Record(ctx, float64(duration.Milliseconds()))
	for status, n := range outcomes {
		m.pushOutcomes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("status", status)))
	}
}

// RecordPull records the number of changes returned
func (m *SyncMetrics) RecordPull(ctx context.Context, changes int, partial bool) {
	if m == nil {
		return
	}
	m.pullChanges.Add(ctx, int64(changes), metric.WithAttributes(attribute.Bool("partial", partial)))
}

// RecordFailure counts a failed operation
func (m *SyncMetrics) RecordFailure(ctx context.Context, op, kind string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("kind", kind),
	))
}
