package pubsub

import "context"

// EventType identifies the kind of state change carried by an event.
type EventType string

const (
	LoopStatusEvent           EventType = "loop_status_changed"
	TodoUpdatedEvent          EventType = "todo_updated"
	CheckpointCreatedEvent    EventType = "checkpoint_created"
	CheckpointResolvedEvent   EventType = "checkpoint_resolved"
	ControlTransferredEvent   EventType = "control_transferred"
	UnderstandingUpdatedEvent EventType = "understanding_updated"
	HeartbeatEvent            EventType = "heartbeat"
)

// Event is the payload of a pubsub event.
type Event[T any] struct {
	Type    EventType `json:"type"`
	Payload T         `json:"payload"`
}

// Subscriber is implemented by services that expose an event stream.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}
