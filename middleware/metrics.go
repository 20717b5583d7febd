package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for signoff metrics.
const meterName = "github.com/xraph/signoff"

// Metrics returns middleware that records per-step metrics using the global
// MeterProvider.
//
// Instruments:
//   - signoff.step.duration (Float64Histogram): execution time in seconds
//   - signoff.step.executions (Int64Counter): total executions
//
// Both carry workflow, step and status ("ok", "suspended" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API hands back noop instruments.
	duration, _ := meter.Float64Histogram(
		"signoff.step.duration",
		metric.WithDescription("Duration of workflow step execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"signoff.step.executions",
		metric.WithDescription("Total number of workflow step executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, s Step, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		switch {
		case errors.Is(err, ErrSuspended):
			status = "suspended"
		case err != nil:
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("workflow", s.Workflow),
			attribute.String("step", s.Name),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
