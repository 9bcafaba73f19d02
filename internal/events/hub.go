// Package events fans lifecycle events out to observers. Delivery is
// best-effort and never blocks the engine
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

type (
	// Hub publishes lifecycle events onto a topic that any number of
	// consumers can read independently
	Hub struct {
		topic  topic.Topic[*api.LifecycleEvent]
		prod   topic.Producer[*api.LifecycleEvent]
		mu     sync.RWMutex
		closed bool
	}

	// Subscription is a filtered view of the hub starting at the moment it
	// was created
	Subscription struct {
		consumer topic.Consumer[*api.LifecycleEvent]
		filter   api.EventFilter
		once     sync.Once
	}
)

var (
	ErrHubClosed          = errors.New("event hub closed")
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// NewHub creates an event hub backed by a fresh topic
func NewHub() *Hub {
	t := caravan.NewTopic[*api.LifecycleEvent]()
	return &Hub{
		topic: t,
		prod:  t.NewProducer(),
	}
}

// Publish sends an event to every current consumer. Events published
// after Close are dropped
func (h *Hub) Publish(ev *api.LifecycleEvent) {
	if ev == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	message.Send(h.prod, ev)
}

// NewConsumer returns a raw consumer positioned at the head of the topic
func (h *Hub) NewConsumer() topic.Consumer[*api.LifecycleEvent] {
	return h.topic.NewConsumer()
}

// Subscribe returns a subscription that yields only events accepted by
// filter. A nil filter accepts every event
func (h *Hub) Subscribe(filter api.EventFilter) *Subscription {
	if filter == nil {
		filter = api.AllEvents
	}
	return &Subscription{
		consumer: h.topic.NewConsumer(),
		filter:   filter,
	}
}

// Close stops accepting events
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.prod.Close()
}

// Receive exposes the underlying channel. Events on it are not filtered
func (s *Subscription) Receive() <-chan *api.LifecycleEvent {
	return s.consumer.Receive()
}

// Accepts reports whether the subscription filter accepts ev
func (s *Subscription) Accepts(ev *api.LifecycleEvent) bool {
	return ev != nil && s.filter(ev)
}

// Next blocks until a matching event arrives or ctx is done
func (s *Subscription) Next(ctx context.Context) (*api.LifecycleEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-s.consumer.Receive():
			if !ok {
				return nil, ErrSubscriptionClosed
			}
			if s.Accepts(ev) {
				return ev, nil
			}
		}
	}
}

// Close releases the subscription
func (s *Subscription) Close() {
	s.once.Do(s.consumer.Close)
}

// And accepts an event only when every filter accepts it
func And(filters ...api.EventFilter) api.EventFilter {
	return func(ev *api.LifecycleEvent) bool {
		for _, f := range filters {
			if !f(ev) {
				return false
			}
		}
		return true
	}
}

// Terminal accepts the events that end an execution
func Terminal(ev *api.LifecycleEvent) bool {
	return !ev.IsNodeEvent() && ev.Status.IsTerminal()
}
