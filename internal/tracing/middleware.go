package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/chartbus/internal/dispatch"
)

// Span names and attribute keys.
const (
	SpanPrefixEvent = "dispatch.event."

	AttrEventName = "event.name"
	AttrEventArgs = "event.args"
	AttrWindowID  = "window.id"
)

// DispatchMiddleware records one span per routed event. A nil tracer
// returns a pass-through middleware.
func DispatchMiddleware(tracer trace.Tracer) dispatch.Middleware {
	if tracer == nil {
		return func(next dispatch.Handler) dispatch.Handler { return next }
	}
	return func(next dispatch.Handler) dispatch.Handler {
		return dispatch.HandlerFunc(func(ctx context.Context, inv dispatch.Invocation) error {
			ctx, span := tracer.Start(ctx, SpanPrefixEvent+inv.Name,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String(AttrEventName, inv.Name),
					attribute.Int(AttrEventArgs, len(inv.Args)),
				),
			)
			defer span.End()
			if inv.Window != nil {
				span.SetAttributes(attribute.String(AttrWindowID, inv.Window.ID()))
			}

			err := next.Handle(ctx, inv)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			span.SetStatus(codes.Ok, "")
			return nil
		})
	}
}
