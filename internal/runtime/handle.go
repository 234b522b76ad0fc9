package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/zjrosen/kiln/internal/alert"
	"github.com/zjrosen/kiln/internal/log"
	"github.com/zjrosen/kiln/internal/pubsub"
)

// Handle lazily boots a runtime exactly once and hands the same instance
// to every caller. Concurrent callers share one in-flight boot; a failed
// boot is reported to every caller and is not retried.
type Handle struct {
	booter    Booter
	available bool

	once     sync.Once
	done     chan struct{}
	instance Instance
	err      error

	mu       sync.Mutex
	attached bool
	cancel   context.CancelFunc
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithAvailable sets whether the runtime may be booted at all.
func WithAvailable(available bool) HandleOption {
	return func(h *Handle) {
		h.available = available
	}
}

// NewHandle creates a handle around booter. The runtime is available
// unless WithAvailable(false) is given.
func NewHandle(booter Booter, opts ...HandleOption) *Handle {
	h := &Handle{
		booter:    booter,
		available: true,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Available reports whether Get can ever succeed.
func (h *Handle) Available() bool {
	return h.available
}

// Get returns the booted instance, booting it on first use. Cancelling
// ctx abandons the wait but not the boot itself.
func (h *Handle) Get(ctx context.Context) (Instance, error) {
	if !h.available {
		return nil, ErrCapabilityUnavailable
	}

	h.once.Do(func() {
		go func() {
			defer close(h.done)
			log.Info(log.CatRuntime, "booting runtime")
			inst, err := h.booter.Boot(context.Background())
			if err != nil {
				log.ErrorErr(log.CatRuntime, "runtime boot failed", err)
				h.err = fmt.Errorf("booting runtime: %w", err)
				return
			}
			log.Info(log.CatRuntime, "runtime ready", "workdir", inst.Workdir())
			h.instance = inst
		}()
	})

	select {
	case <-h.done:
		return h.instance, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AttachErrorListener forwards uncaught exceptions and unhandled
// rejections raised inside previews to sink. Only the first successful
// call attaches; a call that fails to get the instance leaves the
// listener unattached for a later attempt.
func (h *Handle) AttachErrorListener(ctx context.Context, sink alert.Sink) error {
	h.mu.Lock()
	attached := h.attached
	h.mu.Unlock()
	if attached {
		return nil
	}

	inst, err := h.Get(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.attached {
		return nil
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.attached = true

	events := inst.Events().Subscribe(listenCtx)
	go forwardPreviewErrors(events, sink)
	return nil
}

// Close stops the error listener and shuts down a booted instance.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Unlock()

	select {
	case <-h.done:
		if h.instance != nil {
			return h.instance.Close()
		}
	default:
	}
	return nil
}

func forwardPreviewErrors(events <-chan pubsub.Event[Event], sink alert.Sink) {
	for event := range events {
		msg := event.Payload.Message
		if event.Payload.Type != EventPreviewMessage || msg == nil {
			continue
		}
		if a, ok := PreviewErrorAlert(msg); ok {
			sink(a)
		}
	}
}
