package middleware

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for signoff tracing.
const tracerName = "github.com/xraph/signoff"

// Tracing returns middleware that wraps step execution in an OpenTelemetry
// span using the global TracerProvider.
//
// Span attributes: signoff.run.id, signoff.workflow, signoff.step,
// signoff.step.attempt. A suspended step ends with status Unset.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, s Step, next Handler) error {
		ctx, span := tracer.Start(ctx, "signoff.step.execute",
			trace.WithAttributes(
				attribute.String("signoff.run.id", s.RunID),
				attribute.String("signoff.workflow", s.Workflow),
				attribute.String("signoff.step", s.Name),
				attribute.Int("signoff.step.attempt", s.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(err, ErrSuspended):
			span.AddEvent("suspended")
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
