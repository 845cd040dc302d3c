package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	statusHit     = "hit"
	statusMiss    = "miss"
	statusSuccess = "success"
	statusError   = "error"
)

var (
	instrumentsOnce sync.Once
	operationCount  metric.Int64Counter
	operationTime   metric.Float64Histogram
)

func createInstruments() {
	instrumentsOnce.Do(func() {
		meter := otel.Meter("github.com/flutter-oauth/flutter/internal/cache")

		var err error
		operationCount, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Cache calls by operation and outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}

		operationTime, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Time spent in the cache backend per call"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented reports each call on the wrapped cache twice: as metric samples
// and as an event on the span in the caller's context. Both carry the backend
// type ("memory" or "distributed") and the cache name ("session", "api").
type Instrumented[T any] struct {
	wrapped Cache[T]
	labels  []attribute.KeyValue
}

func NewInstrumented[T any](cache Cache[T], cacheType string, name string) *Instrumented[T] {
	createInstruments()
	return &Instrumented[T]{
		wrapped: cache,
		labels: []attribute.KeyValue{
			attribute.String("cache.type", cacheType),
			attribute.String("cache.name", name),
		},
	}
}

func (i *Instrumented[T]) Get(ctx context.Context, key string) (T, bool, error) {
	start := time.Now()
	value, found, err := i.wrapped.Get(ctx, key)

	outcome := statusMiss
	if found {
		outcome = statusHit
	}
	i.observe(ctx, "get", outcome, err, start)

	return value, found, err
}

func (i *Instrumented[T]) Set(ctx context.Context, key string, value T) error {
	start := time.Now()
	err := i.wrapped.Set(ctx, key, value)
	i.observe(ctx, "set", statusSuccess, err, start)

	return err
}

func (i *Instrumented[T]) Invalidate(ctx context.Context, key string) error {
	start := time.Now()
	err := i.wrapped.Invalidate(ctx, key)
	i.observe(ctx, "invalidate", statusSuccess, err, start)

	return err
}

func (i *Instrumented[T]) Close() error {
	return i.wrapped.Close()
}

// observe records one completed call. A non-nil err replaces outcome with
// "error".
func (i *Instrumented[T]) observe(ctx context.Context, operation, outcome string, err error, start time.Time) {
	elapsed := time.Since(start).Seconds()
	if err != nil {
		outcome = statusError
	}

	attrs := make([]attribute.KeyValue, 0, len(i.labels)+3)
	attrs = append(attrs, i.labels...)
	attrs = append(attrs, attribute.String("cache.operation", operation))

	if operationTime != nil {
		operationTime.Record(ctx, elapsed, metric.WithAttributes(attrs...))
	}

	attrs = append(attrs, attribute.String("cache.status", outcome))

	if operationCount != nil {
		operationCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	trace.SpanFromContext(ctx).AddEvent("cache."+operation,
		trace.WithAttributes(append(attrs, attribute.Float64("cache.duration_s", elapsed))...),
	)
}
