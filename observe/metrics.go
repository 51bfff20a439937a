package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels shared by the request and listener metrics.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics records cachegate counters and histograms.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordOperation counts one operation and records its duration.
	RecordOperation(ctx context.Context, meta OpMeta, duration time.Duration, err error)

	// RecordLookup counts one lookup by freshness (fresh, stale, expired, miss).
	RecordLookup(ctx context.Context, namespace, freshness string)

	// RecordInvalidation adds n removed entries.
	RecordInvalidation(ctx context.Context, namespace string, n int)

	// RecordListenerCheck counts one listener check by result.
	RecordListenerCheck(ctx context.Context, result string)
}

type metricsImpl struct {
	requests     metric.Int64Counter
	lookups      metric.Int64Counter
	invalidated  metric.Int64Counter
	checks       metric.Int64Counter
	durationHist metric.Float64Histogram
}

// NewMetrics creates the cachegate instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	requests, err := meter.Int64Counter(
		"cachegate.requests",
		metric.WithDescription("Operations handled, by operation and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	lookups, err := meter.Int64Counter(
		"cachegate.lookups",
		metric.WithDescription("Cache lookups by freshness"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	invalidated, err := meter.Int64Counter(
		"cachegate.invalidated_entries",
		metric.WithDescription("Entries removed by invalidation"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	checks, err := meter.Int64Counter(
		"cachegate.listener.checks",
		metric.WithDescription("Listener checks by result"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"cachegate.request.duration",
		metric.WithDescription("Operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		requests:     requests,
		lookups:      lookups,
		invalidated:  invalidated,
		checks:       checks,
		durationHist: durationHist,
	}, nil
}

func (m *metricsImpl) RecordOperation(ctx context.Context, meta OpMeta, duration time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	attrs := append(meta.attributes(), attribute.String("outcome", outcome))
	m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(meta.attributes()...))
}

func (m *metricsImpl) RecordLookup(ctx context.Context, namespace, freshness string) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cachegate.namespace", namespace),
		attribute.String("freshness", freshness),
	))
}

func (m *metricsImpl) RecordInvalidation(ctx context.Context, namespace string, n int) {
	if n <= 0 {
		return
	}
	m.invalidated.Add(ctx, int64(n), metric.WithAttributes(attribute.String("cachegate.namespace", namespace)))
}

func (m *metricsImpl) RecordListenerCheck(ctx context.Context, result string) {
	m.checks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

type noopMetrics struct{}

// NoopMetrics returns a Metrics that records nothing.
func NoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordOperation(context.Context, OpMeta, time.Duration, error) {}
func (noopMetrics) RecordLookup(context.Context, string, string)                  {}
func (noopMetrics) RecordInvalidation(context.Context, string, int)               {}
func (noopMetrics) RecordListenerCheck(context.Context, string)                   {}
