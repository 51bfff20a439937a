package observe

import (
	"context"
	"time"
)

// Middleware wraps cachegate operations with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components become no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NoopTracer()
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// NopMiddleware returns a Middleware that only runs the wrapped function.
func NopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Metrics exposes the recorder for domain counters.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger exposes the logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Wrap runs fn inside a span, records its duration and logs failures.
func (m *Middleware) Wrap(ctx context.Context, meta OpMeta, fn func(ctx context.Context) error) error {
	ctx, span := m.tracer.StartSpan(ctx, meta)
	start := time.Now()

	err := fn(ctx)

	duration := time.Since(start)
	m.tracer.EndSpan(span, err)
	m.metrics.RecordOperation(ctx, meta, duration, err)

	fields := []Field{
		{Key: "operation", Value: meta.Operation},
		{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000},
	}
	if meta.Namespace != "" {
		fields = append(fields, Field{Key: "namespace", Value: meta.Namespace})
	}
	if err != nil {
		fields = append(fields, Field{Key: "error", Value: err})
		m.logger.Warn(ctx, "operation failed", fields...)
	} else {
		m.logger.Debug(ctx, "operation completed", fields...)
	}
	return err
}
