package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/kiln/internal/processor"
)

// spanAttributer is implemented by commands that describe themselves on
// their span (artifact and action ids, file paths).
type spanAttributer interface {
	SpanAttributes() []attribute.KeyValue
}

type sourced interface {
	Source() processor.CommandSource
}

// NewMiddleware wraps every command in a span. Follow-up commands carry
// the span context so their spans become children. A nil tracer makes the
// middleware a pass-through.
func NewMiddleware(tracer trace.Tracer) processor.Middleware {
	return func(next processor.CommandHandler) processor.CommandHandler {
		if tracer == nil {
			return next
		}
		return processor.HandlerFunc(func(ctx context.Context, cmd processor.Command) (*processor.CommandResult, error) {
			ctx = restoreSpanContext(ctx, cmd)
			ctx, span := tracer.Start(ctx, SpanPrefixCommand+cmd.Type().String(),
				trace.WithSpanKind(trace.SpanKindInternal))
			defer span.End()

			span.SetAttributes(
				attribute.String(AttrCommandID, cmd.ID()),
				attribute.String(AttrCommandType, cmd.Type().String()),
			)
			if s, ok := cmd.(sourced); ok {
				span.SetAttributes(attribute.String(AttrCommandSource, string(s.Source())))
			}
			if a, ok := cmd.(spanAttributer); ok {
				span.SetAttributes(a.SpanAttributes()...)
			}

			result, err := next.Handle(ctx, cmd)

			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case result != nil && !result.Success:
				if result.Error != nil {
					span.RecordError(result.Error)
					span.SetStatus(codes.Error, result.Error.Error())
				} else {
					span.SetStatus(codes.Error, "command failed without error details")
				}
			default:
				span.SetStatus(codes.Ok, "")
			}

			if result != nil {
				sc := span.SpanContext()
				for _, followUp := range result.FollowUp {
					span.AddEvent(EventFollowUpCreated, trace.WithAttributes(
						attribute.String(AttrCommandType, followUp.Type().String()),
						attribute.String(AttrCommandID, followUp.ID()),
					))
					if setter, ok := followUp.(interface{ SetSpanContext(trace.SpanContext) }); ok {
						setter.SetSpanContext(sc)
					}
				}
			}
			return result, err
		})
	}
}

func restoreSpanContext(ctx context.Context, cmd processor.Command) context.Context {
	if c, ok := cmd.(interface{ SpanContext() trace.SpanContext }); ok {
		if sc := c.SpanContext(); sc.IsValid() {
			return trace.ContextWithRemoteSpanContext(ctx, sc)
		}
	}
	return ctx
}
