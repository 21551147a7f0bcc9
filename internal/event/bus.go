package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/opencode-ai/sharesync/internal/logging"
)

// EventType names one declared event variant.
type EventType string

// Event is the wire form of a published event: a tagged variant whose
// payload sits under "properties".
type Event struct {
	Type       EventType `json:"type"`
	Properties any       `json:"properties"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscriberEntry wraps a subscriber with an ID.
type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus is an in-process pub/sub bus. Direct subscribers are invoked on
// the publisher's goroutine in publication order; every event is also
// relayed as JSON onto a watermill gochannel topic named after its type,
// for consumers that want channel semantics instead of callbacks.
//
// A Bus is owned by whoever constructs it and injected where needed;
// there is no process-wide instance.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers: make(map[EventType][]subscriberEntry),
	}
}

// newID generates a unique subscriber ID.
func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a specific event type.
// The returned unsubscribe function is idempotent.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	entry := subscriberEntry{id: id, fn: fn}
	b.subscribers[eventType] = append(b.subscribers[eventType], entry)

	return func() {
		b.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a subscriber for all events.
// The returned unsubscribe function is idempotent.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	entry := subscriberEntry{id: id, fn: fn}
	b.global = append(b.global, entry)

	return func() {
		b.unsubscribeGlobal(id)
	}
}

// unsubscribe removes a subscriber for a specific event type.
func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// unsubscribeGlobal removes a global subscriber.
func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// Publish delivers an event to all subscribers on the calling
// goroutine, in subscription order, and returns after the last
// callback. Subscribers that need to do long work must hand it off; a
// blocking callback stalls the publisher.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}

	// Collect under the lock, call outside it, so a callback can
	// subscribe or unsubscribe without deadlocking.
	subs := make([]Subscriber, 0, len(b.subscribers[event.Type])+len(b.global))
	for _, entry := range b.subscribers[event.Type] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub(event)
	}

	b.relay(event)
}

// PublishAsync delivers an event with each subscriber on its own
// goroutine. No ordering is promised across events; callers that need
// publication order use Publish.
func (b *Bus) PublishAsync(event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}

	subs := make([]Subscriber, 0, len(b.subscribers[event.Type])+len(b.global))
	for _, entry := range b.subscribers[event.Type] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		go sub(event)
	}

	b.relay(event)
}

// relay forwards the event as JSON to the watermill topic named after
// its type.
func (b *Bus) relay(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Warn().Err(err).Str("type", string(event.Type)).Msg("failed to encode event for relay")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(string(event.Type), msg); err != nil {
		logging.Warn().Err(err).Str("type", string(event.Type)).Msg("failed to relay event")
	}
}

// Watch subscribes to the watermill relay of one event type. Messages
// carry the JSON form of Event. The channel closes when ctx is
// cancelled or the bus is closed.
func (b *Bus) Watch(ctx context.Context, eventType EventType) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, string(eventType))
}

// Close closes the bus and drops all subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub returns the underlying watermill GoChannel for advanced use
// cases such as middleware or switching to a distributed backend.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
