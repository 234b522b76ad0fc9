// Package pubsub provides in-process fan-out of typed events: a Broker
// for a single stream and a Hub of brokers addressed by topic.
package pubsub

import "time"

// EventType represents the type of event being published.
type EventType string

const (
	CreatedEvent EventType = "created"
	UpdatedEvent EventType = "updated"
	DeletedEvent EventType = "deleted"
)

// Event represents a published event with a typed payload. Seq numbers
// events of one broker from 1 in publish order; gaps seen by a
// subscriber are events dropped because its buffer was full.
type Event[T any] struct {
	Seq       uint64
	Type      EventType
	Payload   T
	Timestamp time.Time
}
