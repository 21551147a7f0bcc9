/*
Package event provides the typed, in-process event bus that connects the
author-side services: storage emits write events, the publisher pipeline
consumes them, and the CLI observes session and share lifecycle changes.

# Architecture

The package is built on top of watermill's gochannel for infrastructure
while keeping direct-call semantics so payloads stay typed. Every event
is a tagged variant: a wire name plus a payload struct, declared exactly
once at package init via Declare. The same Event value marshals to the
{"type", "properties"} JSON union used on the watermill relay.

# Event Types

Storage Events:
  - storage.write: a value was durably written (rename completed)

Session Events:
  - session.created: new session created
  - session.updated: session record modified
  - session.deleted: session removed

Share Events:
  - share.created: session was shared, URL allocated
  - share.deleted: share destroyed by the author

# Basic Usage

Declaring an event binds a name to a payload type:

	var ShareCreated = event.Declare[event.ShareCreatedProperties]("share.created")

Publishing delivers to all subscribers on the calling goroutine, in
publication order, and returns after the last callback:

	event.ShareCreated.Publish(bus, event.ShareCreatedProperties{
		SessionID: session.ID,
		URL:       url,
	})

Typed subscription:

	unsubscribe := event.StorageWrite.Subscribe(bus, func(p event.StorageWriteProperties) {
		queue.Enqueue(p.Key, p.Content)
	})
	defer unsubscribe()

Untyped subscription, by type or wildcard:

	unsubscribe := bus.SubscribeAll(func(e event.Event) {
		log.Debug().Str("type", string(e.Type)).Msg("event")
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

Subscribers run synchronously in the publisher's goroutine. To avoid
blocking or deadlocks, subscribers MUST:

  - Complete quickly (hand long work to their own goroutine or queue)
  - Use non-blocking channel sends (select with default case)
  - Never call Publish from within a subscriber (no re-entrant publishing)
  - Never acquire locks that the publisher might hold

The publisher pipeline is the canonical example: its storage.write
subscriber only records the pending value and wakes the dispatcher; the
HTTP POST happens elsewhere.

# Ordering

For a single event type, subscribers observe events in the order they
were published. Publications from different goroutines are serialized by
the subscriber-list lock; callback execution happens outside the lock.
PublishAsync exists for fire-and-forget notifications and promises no
ordering at all.

# Integration with Watermill

Each published event is relayed as JSON onto a gochannel topic named
after the event type. Consumers that prefer channels over callbacks,
such as integration tests, use Watch:

	messages, err := bus.Watch(ctx, event.StorageWrite.Name())

PubSub exposes the raw gochannel for middleware or a future move to a
distributed broker.
*/
package event
