package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// ErrQueueFull is returned when the command queue has reached capacity
// or the processor is not accepting commands.
var ErrQueueFull = errors.New("command queue is full")

// ErrUnknownCommandType is returned when no handler is registered for a
// command's type.
var ErrUnknownCommandType = errors.New("unknown command type")

// Command is one unit of serialized work.
type Command interface {
	// ID returns a unique identifier for tracing and correlation.
	ID() string
	// Type routes the command to its handler.
	Type() CommandType
	// Validate checks preconditions before the handler runs.
	Validate() error
	CreatedAt() time.Time
}

// CommandType identifies the kind of command for handler routing.
type CommandType string

func (ct CommandType) String() string { return string(ct) }

// CommandSource identifies where a command originated.
type CommandSource string

const (
	// SourceStream is the action-event stream.
	SourceStream CommandSource = "stream"
	// SourceUser is a direct editor or CLI request.
	SourceUser CommandSource = "user"
	// SourceInternal is system generated, e.g. an asynchronous restore.
	SourceInternal CommandSource = "internal"
)

// BaseCommand carries the fields every command shares. Concrete commands
// embed it.
type BaseCommand struct {
	id          string
	cmdType     CommandType
	createdAt   time.Time
	source      CommandSource
	spanContext trace.SpanContext
}

// NewBaseCommand creates a BaseCommand with a generated id.
func NewBaseCommand(cmdType CommandType, source CommandSource) BaseCommand {
	return BaseCommand{
		id:        uuid.New().String(),
		cmdType:   cmdType,
		createdAt: time.Now(),
		source:    source,
	}
}

func (b *BaseCommand) ID() string                     { return b.id }
func (b *BaseCommand) Type() CommandType              { return b.cmdType }
func (b *BaseCommand) CreatedAt() time.Time           { return b.createdAt }
func (b *BaseCommand) Source() CommandSource          { return b.source }
func (b *BaseCommand) Validate() error                { return nil }
func (b *BaseCommand) SpanContext() trace.SpanContext { return b.spanContext }

// SetSpanContext links the command to a parent span.
func (b *BaseCommand) SetSpanContext(sc trace.SpanContext) { b.spanContext = sc }

// TraceID returns the trace id of the linked span, or "".
func (b *BaseCommand) TraceID() string {
	if b.spanContext.IsValid() {
		return b.spanContext.TraceID().String()
	}
	return ""
}

// CommandResult is the outcome of a handler.
type CommandResult struct {
	Success bool
	// Events are published on the processor's event bus.
	Events []any
	// FollowUp commands are appended to the end of the queue.
	FollowUp []Command
	Error    error
	Data     any
}

// CommandHandler executes one command type.
type CommandHandler interface {
	Handle(ctx context.Context, cmd Command) (*CommandResult, error)
}

// HandlerFunc adapts a function to CommandHandler.
type HandlerFunc func(ctx context.Context, cmd Command) (*CommandResult, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (*CommandResult, error) {
	return f(ctx, cmd)
}
