package pubsub

import (
	"context"
	"sync"
)

// Hub is a topic-addressed broadcast channel built on per-topic brokers.
// Every subscriber of a topic receives every message published to it,
// including messages it published itself; receivers filter by origin.
type Hub[T any] struct {
	mu         sync.Mutex
	topics     map[string]*Broker[T]
	bufferSize int
	closed     bool
}

// NewHub creates a hub with the default per-subscriber buffer size.
func NewHub[T any]() *Hub[T] {
	return NewHubWithBuffer[T](defaultBufferSize)
}

// NewHubWithBuffer creates a hub with a custom per-subscriber buffer size.
func NewHubWithBuffer[T any](size int) *Hub[T] {
	return &Hub[T]{
		topics:     make(map[string]*Broker[T]),
		bufferSize: size,
	}
}

func (h *Hub[T]) broker(topic string) *Broker[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.topics[topic]
	if !ok {
		b = NewBrokerWithBuffer[T](h.bufferSize)
		if h.closed {
			b.Close()
		}
		h.topics[topic] = b
	}
	return b
}

// Publish sends msg to every subscriber of topic. Non-blocking.
func (h *Hub[T]) Publish(topic string, msg T) {
	h.broker(topic).Publish(UpdatedEvent, msg)
}

// Subscribe invokes handler for every message published to topic until
// ctx is cancelled or the hub is closed. Handlers for one subscription
// run sequentially on a dedicated goroutine.
func (h *Hub[T]) Subscribe(ctx context.Context, topic string, handler func(T)) {
	ch := h.broker(topic).Subscribe(ctx)
	go func() {
		for event := range ch {
			handler(event.Payload)
		}
	}()
}

// SubscriberCount returns the number of active subscribers on topic.
func (h *Hub[T]) SubscriberCount(topic string) int {
	return h.broker(topic).SubscriberCount()
}

// Close shuts down every topic broker.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, b := range h.topics {
		b.Close()
	}
}
