package storage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mustardtree/portal/pkg/observability"
)

var tracer = otel.Tracer("github.com/mustardtree/portal/pkg/storage")

// InstrumentedKV records a span and Prometheus metrics for every backend call
type InstrumentedKV struct {
	inner   KV
	backend string
	metrics *observability.Metrics
}

// Instrument wraps kv; metrics may be nil
func Instrument(kv KV, backend string, metrics *observability.Metrics) *InstrumentedKV {
	return &InstrumentedKV{inner: kv, backend: backend, metrics: metrics}
}

func (i *InstrumentedKV) observe(ctx context.Context, op, key string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "KV."+op,
		trace.WithAttributes(
			attribute.String("kv.backend", i.backend),
			attribute.String("kv.key", key),
		),
	)
	start := time.Now()

	return ctx, func(err error) {
		status := "ok"
		switch {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			status = "not_found"
		case errors.Is(err, ErrConflict):
			status = "conflict"
			span.SetAttributes(attribute.Bool("kv.conflict", true))
		default:
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if i.metrics != nil {
			i.metrics.StorageOperationsTotal.WithLabelValues(op, i.backend, status).Inc()
			i.metrics.StorageOperationDuration.WithLabelValues(op, i.backend).Observe(time.Since(start).Seconds())
		}
	}
}

func (i *InstrumentedKV) Get(ctx context.Context, key string) (Entry, error) {
	ctx, done := i.observe(ctx, "get", key)
	e, err := i.inner.Get(ctx, key)
	done(err)
	return e, err
}

func (i *InstrumentedKV) Put(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	ctx, done := i.observe(ctx, "put", key)
	v, err := i.inner.Put(ctx, key, value, expected)
	done(err)
	return v, err
}

func (i *InstrumentedKV) Delete(ctx context.Context, key string) error {
	ctx, done := i.observe(ctx, "delete", key)
	err := i.inner.Delete(ctx, key)
	done(err)
	return err
}

func (i *InstrumentedKV) HealthCheck(ctx context.Context) error {
	return i.inner.HealthCheck(ctx)
}

func (i *InstrumentedKV) Close() error {
	return i.inner.Close()
}
