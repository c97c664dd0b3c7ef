package pubsub

import (
	"context"
	"slices"
	"sync"
	"time"
)

// SessionEvent is the envelope every GOI state change travels in.
type SessionEvent struct {
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub keeps one broker per session so subscribers only see their own
// session's events. Sequence numbers are per session, in publish order.
type Hub struct {
	mu      sync.Mutex
	brokers map[string]*sessionBroker
	done    chan struct{}
}

type sessionBroker struct {
	broker *Broker[SessionEvent]
	seq    int64
	mu     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		brokers: make(map[string]*sessionBroker),
		done:    make(chan struct{}),
	}
}

func (h *Hub) forSession(sessionID string) *sessionBroker {
	h.mu.Lock()
	defer h.mu.Unlock()
	sb, ok := h.brokers[sessionID]
	if !ok {
		sb = &sessionBroker{broker: NewBroker[SessionEvent]()}
		h.brokers[sessionID] = sb
	}
	return sb
}

// Publish delivers the event to every subscriber of the session.
func (h *Hub) Publish(sessionID string, t EventType, payload any) {
	select {
	case <-h.done:
		return
	default:
	}
	sb := h.forSession(sessionID)
	sb.mu.Lock()
	sb.seq++
	event := SessionEvent{
		SessionID: sessionID,
		Type:      t,
		Payload:   payload,
		Seq:       sb.seq,
		Timestamp: time.Now(),
	}
	// publish under the session lock so Seq matches delivery order
	sb.broker.Publish(t, event)
	sb.mu.Unlock()
}

// Subscribe returns a channel of the session's events. With types given,
// only matching events are delivered. The channel closes when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, sessionID string, types ...EventType) <-chan SessionEvent {
	sb := h.forSession(sessionID)
	in := sb.broker.Subscribe(ctx)
	if len(types) == 0 {
		return unwrap(in)
	}
	out := make(chan SessionEvent, outBufferSize)
	go func() {
		defer close(out)
		for event := range in {
			if !slices.Contains(types, event.Payload.Type) {
				continue
			}
			select {
			case out <- event.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func unwrap(in <-chan Event[SessionEvent]) <-chan SessionEvent {
	out := make(chan SessionEvent, outBufferSize)
	go func() {
		defer close(out)
		for event := range in {
			out <- event.Payload
		}
	}()
	return out
}

// SubscriberCount reports active subscribers for a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	sb, ok := h.brokers[sessionID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return sb.broker.GetSubscriberCount()
}

// Shutdown closes every session broker and all subscriber channels.
func (h *Hub) Shutdown() {
	select {
	case <-h.done:
		return
	default:
		close(h.done)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sb := range h.brokers {
		sb.broker.Shutdown()
		delete(h.brokers, id)
	}
}
