package pubsub

import (
	"context"
	"sync"
)

const outBufferSize = 64

// Broker fans events out to subscribers. Delivery per subscriber follows
// publish order; a slow subscriber queues events instead of losing them, and
// never blocks the publisher.
type Broker[T any] struct {
	subs map[*subscription[T]]struct{}
	mu   sync.RWMutex
	done chan struct{}
}

type subscription[T any] struct {
	out    chan Event[T]
	queue  []Event[T]
	mu     sync.Mutex
	notify chan struct{}
	closed bool
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subs: make(map[*subscription[T]]struct{}),
		done: make(chan struct{}),
	}
}

func (b *Broker[T]) Shutdown() {
	select {
	case <-b.done: // Already closed
		return
	default:
		close(b.done)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		delete(b.subs, sub)
		sub.signal()
	}
}

func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan Event[T])
		close(ch)
		return ch
	default:
	}

	sub := &subscription[T]{
		out:    make(chan Event[T], outBufferSize),
		notify: make(chan struct{}, 1),
	}
	b.subs[sub] = struct{}{}

	go sub.pump(ctx, b.done)

	go func() {
		<-ctx.Done()

		b.mu.Lock()
		defer b.mu.Unlock()

		select {
		case <-b.done:
			return
		default:
		}

		delete(b.subs, sub)
		sub.signal()
	}()

	return sub.out
}

func (b *Broker[T]) GetSubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker[T]) Publish(t EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return
	default:
	}

	event := Event[T]{Type: t, Payload: payload}

	for sub := range b.subs {
		sub.enqueue(event)
	}
}

func (s *subscription[T]) enqueue(event Event[T]) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()
	s.signal()
}

func (s *subscription[T]) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump drains the queue into the out channel in publish order. Only the
// subscriber's own consumption speed throttles it.
func (s *subscription[T]) pump(ctx context.Context, done <-chan struct{}) {
	defer close(s.out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-s.notify:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			event := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- event:
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}
}
