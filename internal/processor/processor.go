// Package processor is the serialized execution queue: a single goroutine
// that runs commands in strict FIFO order. Everything that mutates the
// file table or drives the runtime goes through it.
package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/kiln/internal/log"
	"github.com/zjrosen/kiln/internal/pubsub"
)

// DefaultQueueCapacity is the default buffer size for the command queue.
const DefaultQueueCapacity = 1000

// Option configures the CommandProcessor.
type Option func(*CommandProcessor)

// WithQueueCapacity sets the command queue buffer capacity.
func WithQueueCapacity(capacity int) Option {
	return func(p *CommandProcessor) {
		if capacity > 0 {
			p.queueCapacity = capacity
		}
	}
}

// WithEventBus sets the bus that receives result events and error events.
func WithEventBus(bus *pubsub.Broker[any]) Option {
	return func(p *CommandProcessor) {
		p.eventBus = bus
	}
}

// WithMiddleware adds middleware applied to every handler. The first
// middleware wraps outermost.
func WithMiddleware(middlewares ...Middleware) Option {
	return func(p *CommandProcessor) {
		p.middlewares = append(p.middlewares, middlewares...)
	}
}

// CommandProcessor processes commands sequentially in FIFO order.
type CommandProcessor struct {
	queue         chan queueItem
	queueCapacity int

	// sendMu orders sends on queue against its close in Drain.
	sendMu sync.RWMutex
	closed bool

	handlers    map[CommandType]CommandHandler
	middlewares []Middleware
	eventBus    *pubsub.Broker[any]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running  atomic.Bool
	started  atomic.Bool
	readyCh  chan struct{}
	readyMu  sync.Mutex
	readySet bool

	processedCount atomic.Int64
	errorCount     atomic.Int64
}

type queueItem struct {
	cmd      Command
	resultCh chan *CommandResult // nil for fire-and-forget Submit
}

// NewCommandProcessor creates a processor. Register handlers, then call
// Run.
func NewCommandProcessor(opts ...Option) *CommandProcessor {
	p := &CommandProcessor{
		queueCapacity: DefaultQueueCapacity,
		handlers:      make(map[CommandType]CommandHandler),
		readyCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterHandler registers a handler for a command type, wrapped with
// the configured middleware. Must be called before Run.
func (p *CommandProcessor) RegisterHandler(cmdType CommandType, handler CommandHandler) {
	p.handlers[cmdType] = ChainMiddleware(handler, p.middlewares...)
}

// Run processes commands until ctx is cancelled, Stop is called, or
// Drain empties the queue. Only the first call runs the loop.
func (p *CommandProcessor) Run(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.queue = make(chan queueItem, p.queueCapacity)

	// Add before marking running so Drain never waits on an empty group.
	p.wg.Add(1)
	p.running.Store(true)

	p.readyMu.Lock()
	if !p.readySet {
		close(p.readyCh)
		p.readySet = true
	}
	p.readyMu.Unlock()

	defer func() {
		p.running.Store(false)
		p.wg.Done()
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			p.processItem(item)
		}
	}
}

// WaitForReady blocks until Run has started.
func (p *CommandProcessor) WaitForReady(ctx context.Context) error {
	select {
	case <-p.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues cmd without waiting for it.
func (p *CommandProcessor) Submit(cmd Command) error {
	return p.enqueue(queueItem{cmd: cmd})
}

// SubmitAndWait enqueues cmd and waits for its result. The returned
// error is only about admission and waiting; handler failures are
// reported in the result.
func (p *CommandProcessor) SubmitAndWait(ctx context.Context, cmd Command) (*CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resultCh := make(chan *CommandResult, 1)
	if err := p.enqueue(queueItem{cmd: cmd, resultCh: resultCh}); err != nil {
		return nil, err
	}

	select {
	case result := <-resultCh:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, context.Canceled
	}
}

func (p *CommandProcessor) enqueue(item queueItem) error {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed || !p.running.Load() {
		return ErrQueueFull
	}
	select {
	case p.queue <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels the loop and waits for it to exit. Queued commands are
// dropped.
func (p *CommandProcessor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Drain stops accepting commands, runs everything already queued, and
// waits for the loop to exit.
func (p *CommandProcessor) Drain() {
	p.sendMu.Lock()
	if p.closed || !p.running.CompareAndSwap(true, false) {
		p.sendMu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.sendMu.Unlock()
	p.wg.Wait()
}

// IsRunning reports whether the processor accepts commands.
func (p *CommandProcessor) IsRunning() bool { return p.running.Load() }

// ProcessedCount returns the number of commands processed.
func (p *CommandProcessor) ProcessedCount() int64 { return p.processedCount.Load() }

// ErrorCount returns the number of commands that did not succeed.
func (p *CommandProcessor) ErrorCount() int64 { return p.errorCount.Load() }

// QueueLength returns the number of commands waiting.
func (p *CommandProcessor) QueueLength() int {
	if p.queue == nil {
		return 0
	}
	return len(p.queue)
}

func (p *CommandProcessor) processItem(item queueItem) {
	result := p.processCommand(item.cmd)

	p.processedCount.Add(1)
	if !result.Success {
		p.errorCount.Add(1)
	}

	if item.resultCh != nil {
		item.resultCh <- result
		close(item.resultCh)
	}
}

// processCommand validates, routes, and runs cmd. A panicking handler
// becomes a failed result so the loop keeps going.
func (p *CommandProcessor) processCommand(cmd Command) (result *CommandResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("command %s panicked: %v", cmd.Type(), r)
			log.Error(log.CatQueue, "handler panic", "command_id", cmd.ID(), "command_type", cmd.Type().String(), "panic", r)
			p.emitErrorEvent(cmd, err)
			result = &CommandResult{Success: false, Error: err}
		}
	}()

	if err := cmd.Validate(); err != nil {
		p.emitErrorEvent(cmd, err)
		return &CommandResult{Success: false, Error: err}
	}

	handler, ok := p.handlers[cmd.Type()]
	if !ok {
		p.emitErrorEvent(cmd, ErrUnknownCommandType)
		return &CommandResult{Success: false, Error: ErrUnknownCommandType}
	}

	result, err := handler.Handle(p.ctx, cmd)
	if err != nil {
		p.emitErrorEvent(cmd, err)
		return &CommandResult{Success: false, Error: err}
	}
	if result == nil {
		result = &CommandResult{Success: true}
	}

	p.emitEvents(result.Events)

	for _, followUp := range result.FollowUp {
		if !p.running.Load() {
			log.Warn(log.CatQueue, "dropping follow-up, processor stopping", "command_type", followUp.Type().String())
			continue
		}
		select {
		case p.queue <- queueItem{cmd: followUp}:
		default:
			log.Warn(log.CatQueue, "dropping follow-up, queue full", "command_type", followUp.Type().String())
		}
	}
	return result
}

func (p *CommandProcessor) emitEvents(events []any) {
	if p.eventBus == nil {
		return
	}
	for _, event := range events {
		p.eventBus.Publish(pubsub.UpdatedEvent, event)
	}
}

func (p *CommandProcessor) emitErrorEvent(cmd Command, err error) {
	if p.eventBus == nil {
		return
	}
	p.eventBus.Publish(pubsub.UpdatedEvent, CommandErrorEvent{
		CommandID:   cmd.ID(),
		CommandType: cmd.Type(),
		Error:       err,
	})
}
