package coordinator

import (
	"context"
	"sync"

	"github.com/opencode-ai/sharesync/internal/blob"
	"github.com/opencode-ai/sharesync/internal/kvstore"
)

// ShareNameFor derives the public share name from a session id: its
// last 8 characters. The tail of an id is random payload, so distinct
// sessions collide only by accident, and share_create reports the
// collision when they do.
func ShareNameFor(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[len(sessionID)-8:]
}

// Registry is the directory of live share actors. Each shareName gets
// at most one Session; requests for the same name always land on the
// same goroutine.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	store    *kvstore.Store
	blobs    blob.Store
	web      string
}

func NewRegistry(store *kvstore.Store, blobs blob.Store, webDomain string) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		store:    store,
		blobs:    blobs,
		web:      webDomain,
	}
}

// Get returns the actor for shareName, spawning it on first use. The
// actor loads its durable record on startup, so a restart re-serves
// shares created by an earlier process.
func (r *Registry) Get(shareName string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[shareName]; ok {
		return s
	}
	s := newSession(shareName, r.store, r.blobs, r.web)
	r.sessions[shareName] = s
	return s
}

// Exists reports whether shareName has a durable record, without
// spawning an actor. Handlers use it to reject viewers before the
// websocket upgrade.
func (r *Registry) Exists(shareName string) (bool, error) {
	return r.store.HasShare(shareName)
}

// Shutdown stops every actor and waits for them to drain, at most
// until ctx expires. Attached viewers receive a going-away close.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.halt()
	}
	for _, s := range sessions {
		select {
		case <-s.stopped:
		case <-ctx.Done():
			return
		}
	}
}
