package processor

import (
	"context"
	"time"

	"github.com/zjrosen/kiln/internal/log"
	"github.com/zjrosen/kiln/internal/pubsub"
)

// Middleware wraps a CommandHandler.
type Middleware func(CommandHandler) CommandHandler

// ChainMiddleware applies middlewares so that the first one is outermost:
// ChainMiddleware(h, a, b) runs a(b(h)).
func ChainMiddleware(handler CommandHandler, middlewares ...Middleware) CommandHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

func sourceOf(cmd Command) CommandSource {
	if s, ok := cmd.(interface{ Source() CommandSource }); ok {
		return s.Source()
	}
	return ""
}

func traceIDOf(cmd Command) string {
	if t, ok := cmd.(interface{ TraceID() string }); ok {
		return t.TraceID()
	}
	return ""
}

// NewLoggingMiddleware logs every command with its outcome and duration.
func NewLoggingMiddleware() Middleware {
	return func(next CommandHandler) CommandHandler {
		return HandlerFunc(func(ctx context.Context, cmd Command) (*CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			duration := time.Since(start)

			switch {
			case err != nil:
				log.Error(log.CatQueue, "command failed",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"trace_id", traceIDOf(cmd),
					"duration", duration,
					"source", sourceOf(cmd),
					"error", err.Error(),
				)
			case result != nil && !result.Success:
				errMsg := ""
				if result.Error != nil {
					errMsg = result.Error.Error()
				}
				log.Warn(log.CatQueue, "command completed with error result",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"duration", duration,
					"source", sourceOf(cmd),
					"error", errMsg,
				)
			default:
				log.Debug(log.CatQueue, "command completed",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"duration", duration,
				)
			}
			return result, err
		})
	}
}

// NewCommandLogMiddleware publishes a CommandLogEvent for each command on
// bus. A nil bus makes it a pass-through.
func NewCommandLogMiddleware(bus *pubsub.Broker[CommandLogEvent]) Middleware {
	return func(next CommandHandler) CommandHandler {
		if bus == nil {
			return next
		}
		return HandlerFunc(func(ctx context.Context, cmd Command) (*CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)

			event := CommandLogEvent{
				CommandID:   cmd.ID(),
				CommandType: cmd.Type(),
				Source:      sourceOf(cmd),
				Success:     err == nil && (result == nil || result.Success),
				Duration:    time.Since(start),
				Timestamp:   time.Now(),
				TraceID:     traceIDOf(cmd),
			}
			switch {
			case err != nil:
				event.Error = err
			case result != nil:
				event.Error = result.Error
			}
			bus.Publish(pubsub.UpdatedEvent, event)
			return result, err
		})
	}
}

// DefaultSlowThreshold is the default duration after which a handler is
// reported as slow.
const DefaultSlowThreshold = 2 * time.Second

// NewSlowCommandMiddleware warns when a handler runs longer than
// threshold. Slow handlers are never interrupted.
func NewSlowCommandMiddleware(threshold time.Duration) Middleware {
	if threshold <= 0 {
		threshold = DefaultSlowThreshold
	}
	return func(next CommandHandler) CommandHandler {
		return HandlerFunc(func(ctx context.Context, cmd Command) (*CommandResult, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			if d := time.Since(start); d > threshold {
				log.Warn(log.CatQueue, "handler exceeded time threshold",
					"command_id", cmd.ID(),
					"command_type", cmd.Type().String(),
					"duration", d,
					"threshold", threshold,
				)
			}
			return result, err
		})
	}
}
