// Package blob provides the object store behind the public share
// mirror. Every accepted publish lands here as share/<key>.json next to
// the durable kv write, so bulk readers (the web viewer's static
// fetcher, archival jobs) can get session state without touching the
// coordinator.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("object not found")

// ContentTypeJSON is the content type of every mirrored object.
const ContentTypeJSON = "application/json"

// Store abstracts raw object I/O across backends. The coordinator is
// the only writer; keys are slash-separated paths under the share/
// prefix.
type Store interface {
	// Put writes data to the given key with the specified content type.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get retrieves data for the given key.
	// Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object at the given key.
	// Returns ErrNotFound if the key does not exist.
	Delete(ctx context.Context, key string) error

	// List returns all keys matching the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}
