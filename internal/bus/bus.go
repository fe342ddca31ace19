// Package bus provides an in-process event bus that fans controller events
// out to presentation adapters and metrics.
package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// EventType identifies different event types
type EventType string

// Event types published by the avatar runtime
const (
	// Presentation
	EventTypeSnapshot EventType = "avatar.snapshot"

	// Media events
	EventTypeMediaLoading       EventType = "media.loading"
	EventTypeMediaReady         EventType = "media.ready"
	EventTypeMediaFailed        EventType = "media.failed"
	EventTypeMediaEnded         EventType = "media.ended"
	EventTypeMediaAutoplayRetry EventType = "media.autoplay_retry"
	EventTypeAvatarChanged      EventType = "media.avatar_changed"

	// Narration events
	EventTypeSegmentStarted    EventType = "narration.segment_started"
	EventTypeSegmentFailed     EventType = "narration.segment_failed"
	EventTypeSequenceEnded     EventType = "narration.sequence_ended"
	EventTypeNarrationFallback EventType = "narration.fallback_activated"

	// Transport intents
	EventTypeCommand EventType = "control.command"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	types   map[EventType]bool // nil means every type
	handler Handler
	queue   chan Event
	done    chan struct{}
}

// EventBus is a pub/sub bus. Each subscriber gets its own goroutine and
// queue, so events reach a subscriber in publish order and a slow
// subscriber never blocks the publisher; events that overflow a full queue
// are dropped and counted.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[SubscriptionID]*subscription
	counter uint64
	buffer  int
	dropped atomic.Uint64
	closed  bool
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return NewEventBusWithBuffer(DefaultBufferSize)
}

// NewEventBusWithBuffer creates a bus with a custom per-subscriber queue size.
func NewEventBusWithBuffer(size int) *EventBus {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &EventBus{
		subs:   make(map[SubscriptionID]*subscription),
		buffer: size,
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) SubscriptionID {
	return b.subscribe([]EventType{eventType}, handler)
}

// SubscribeMultiple adds one handler for several event types.
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) SubscriptionID {
	return b.subscribe(eventTypes, handler)
}

// SubscribeAll receives every event.
func (b *EventBus) SubscribeAll(handler Handler) SubscriptionID {
	return b.subscribe(nil, handler)
}

func (b *EventBus) subscribe(eventTypes []EventType, handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ""
	}

	b.counter++
	sub := &subscription{
		id:      SubscriptionID(fmt.Sprintf("sub_%d", b.counter)),
		handler: handler,
		queue:   make(chan Event, b.buffer),
		done:    make(chan struct{}),
	}
	if eventTypes != nil {
		sub.types = make(map[EventType]bool, len(eventTypes))
		for _, et := range eventTypes {
			sub.types[et] = true
		}
	}
	b.subs[sub.id] = sub

	go sub.run()
	return sub.id
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.queue:
			s.handler(event)
		}
	}
}

func (s *subscription) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// Unsubscribe removes a subscription. Queued events are discarded.
func (b *EventBus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if ok {
		close(sub.done)
	}
}

// Publish sends an event to all subscribed handlers without blocking.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many events were discarded because a subscriber's
// queue was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close removes all handlers and rejects further subscriptions.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
}
