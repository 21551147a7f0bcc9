package event

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/opencode-ai/sharesync/pkg/types"
)

// Definition binds an event name to its payload type. Every event is
// declared exactly once, at package init; Declare panics on a duplicate
// name so collisions surface at startup rather than as silently
// misrouted events.
type Definition[T any] struct {
	name EventType
}

var (
	declaredMu sync.Mutex
	declared   = map[EventType]bool{}
)

// Declare registers an event type with its payload schema.
func Declare[T any](name EventType) Definition[T] {
	declaredMu.Lock()
	defer declaredMu.Unlock()
	if declared[name] {
		panic(fmt.Sprintf("event: %q declared twice", name))
	}
	declared[name] = true
	return Definition[T]{name: name}
}

// Name returns the wire name of the event type.
func (d Definition[T]) Name() EventType {
	return d.name
}

// Publish delivers properties to b's subscribers synchronously.
func (d Definition[T]) Publish(b *Bus, properties T) {
	b.Publish(Event{Type: d.name, Properties: properties})
}

// Subscribe registers a typed subscriber on b. Events whose payload is
// not a T (possible only through the untyped API) are ignored.
func (d Definition[T]) Subscribe(b *Bus, fn func(T)) func() {
	return b.Subscribe(d.name, func(e Event) {
		if properties, ok := e.Properties.(T); ok {
			fn(properties)
		}
	})
}

// Author-side event declarations.
var (
	StorageWrite   = Declare[StorageWriteProperties]("storage.write")
	SessionCreated = Declare[SessionCreatedProperties]("session.created")
	SessionUpdated = Declare[SessionUpdatedProperties]("session.updated")
	SessionDeleted = Declare[SessionDeletedProperties]("session.deleted")
	ShareCreated   = Declare[ShareCreatedProperties]("share.created")
	ShareDeleted   = Declare[ShareDeletedProperties]("share.deleted")
)

// StorageWriteProperties is the payload of storage.write, emitted
// strictly after a value has been renamed into its final path. Content
// is the exact bytes on disk, so subscribers need not re-read the file.
type StorageWriteProperties struct {
	Key     string          `json:"key"`
	Content json.RawMessage `json:"content"`
}

// SessionCreatedProperties is the payload of session.created.
type SessionCreatedProperties struct {
	Info *types.Session `json:"info"`
}

// SessionUpdatedProperties is the payload of session.updated.
type SessionUpdatedProperties struct {
	Info *types.Session `json:"info"`
}

// SessionDeletedProperties is the payload of session.deleted.
type SessionDeletedProperties struct {
	Info *types.Session `json:"info"`
}

// ShareCreatedProperties is the payload of share.created.
type ShareCreatedProperties struct {
	SessionID string `json:"sessionID"`
	URL       string `json:"url"`
}

// ShareDeletedProperties is the payload of share.deleted.
type ShareDeletedProperties struct {
	SessionID string `json:"sessionID"`
}
