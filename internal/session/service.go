// Package session manages the author's local sessions: the info
// record, its messages, and their parts, all stored under the shared
// key grammar so that every write is observable by the publisher
// pipeline. The service never talks to the share server itself; it
// just writes, and sharing is a property of what happens to the
// resulting storage events.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opencode-ai/sharesync/internal/event"
	"github.com/opencode-ai/sharesync/internal/id"
	"github.com/opencode-ai/sharesync/internal/keys"
	"github.com/opencode-ai/sharesync/internal/storage"
	"github.com/opencode-ai/sharesync/pkg/types"
)

// ErrNotFound indicates the session does not exist locally.
var ErrNotFound = storage.ErrNotFound

// Service manages session records on the author's storage.
type Service struct {
	storage *storage.Storage
	bus     *event.Bus
	version string
}

// NewService creates a session service. Events are published on bus;
// version is stamped onto new sessions so viewers can tell which
// client wrote them.
func NewService(store *storage.Storage, bus *event.Bus, version string) *Service {
	return &Service{storage: store, bus: bus, version: version}
}

// Create creates a new session. Session ids are descending, so a plain
// ascending scan of the info keyspace lists newest sessions first.
func (s *Service) Create(ctx context.Context, title string) (*types.Session, error) {
	if title == "" {
		title = "New Session"
	}
	now := time.Now().UnixMilli()

	session := &types.Session{
		ID:      id.Descending(id.PrefixSession),
		Title:   title,
		Version: s.version,
		Time:    types.SessionTime{Created: now, Updated: now},
	}

	if err := s.storage.Put(ctx, keys.Info(session.ID), session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	event.SessionCreated.Publish(s.bus, event.SessionCreatedProperties{Info: session})
	return session, nil
}

// Get retrieves a session by id.
func (s *Service) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	if err := id.Validate(id.PrefixSession, sessionID); err != nil {
		return nil, err
	}
	var session types.Session
	if err := s.storage.Get(ctx, keys.Info(sessionID), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns every session, newest first.
func (s *Service) List(ctx context.Context) ([]*types.Session, error) {
	sessions := []*types.Session{}
	err := s.storage.Scan(ctx, keys.Prefix+"/info", func(key string, data json.RawMessage) error {
		var session types.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return fmt.Errorf("corrupt session at %s: %w", key, err)
		}
		sessions = append(sessions, &session)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// Update applies fn to the session and persists the result. The
// updated timestamp is bumped automatically.
func (s *Service) Update(ctx context.Context, sessionID string, fn func(*types.Session)) (*types.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	fn(session)
	session.Time.Updated = time.Now().UnixMilli()

	if err := s.storage.Put(ctx, keys.Info(sessionID), session); err != nil {
		return nil, err
	}

	event.SessionUpdated.Publish(s.bus, event.SessionUpdatedProperties{Info: session})
	return session, nil
}

// Delete removes the session, its messages, and their parts.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := s.storage.Delete(ctx, keys.Info(sessionID)); err != nil {
		return err
	}
	if err := s.storage.DeleteDir(ctx, keys.Prefix+"/message/"+sessionID); err != nil {
		return err
	}
	if err := s.storage.DeleteDir(ctx, keys.Prefix+"/part/"+sessionID); err != nil {
		return err
	}

	event.SessionDeleted.Publish(s.bus, event.SessionDeletedProperties{Info: session})
	return nil
}

// AddMessage appends a message to the session. A missing message id is
// minted here; message ids ascend, so storage order is append order.
// The session's updated timestamp moves, which re-syncs the info key.
func (s *Service) AddMessage(ctx context.Context, sessionID string, message *types.Message) error {
	if message.ID == "" {
		message.ID = id.Ascending(id.PrefixMessage)
	} else if err := id.Validate(id.PrefixMessage, message.ID); err != nil {
		return err
	}
	message.SessionID = sessionID
	if message.Time.Created == 0 {
		message.Time.Created = time.Now().UnixMilli()
	}

	if err := s.storage.Put(ctx, keys.Message(sessionID, message.ID), message); err != nil {
		return err
	}

	_, err := s.Update(ctx, sessionID, func(session *types.Session) {
		if message.Tokens != nil {
			session.Tokens.Input += message.Tokens.Input
			session.Tokens.Output += message.Tokens.Output
			session.Tokens.Reasoning += message.Tokens.Reasoning
			session.Tokens.Cache.Read += message.Tokens.Cache.Read
			session.Tokens.Cache.Write += message.Tokens.Cache.Write
		}
		session.Cost += message.Cost
	})
	return err
}

// GetMessages returns the session's messages in creation order.
func (s *Service) GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	messages := []*types.Message{}
	err := s.storage.Scan(ctx, keys.Prefix+"/message/"+sessionID, func(key string, data json.RawMessage) error {
		var message types.Message
		if err := json.Unmarshal(data, &message); err != nil {
			return fmt.Errorf("corrupt message at %s: %w", key, err)
		}
		messages = append(messages, &message)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddPart appends a part to a message. Parts are written as raw JSON;
// the structured Part types in pkg/types are a convenience for callers,
// not a storage requirement.
func (s *Service) AddPart(ctx context.Context, sessionID, messageID, partID string, part any) (string, error) {
	if partID == "" {
		partID = id.Ascending(id.PrefixPart)
	} else if err := id.Validate(id.PrefixPart, partID); err != nil {
		return "", err
	}
	if err := id.Validate(id.PrefixMessage, messageID); err != nil {
		return "", err
	}

	if err := s.storage.Put(ctx, keys.Part(sessionID, messageID, partID), part); err != nil {
		return "", err
	}
	return partID, nil
}

// GetParts returns a message's parts in creation order.
func (s *Service) GetParts(ctx context.Context, sessionID, messageID string) ([]types.Part, error) {
	parts := []types.Part{}
	prefix := keys.Prefix + "/part/" + sessionID + "/" + messageID
	err := s.storage.Scan(ctx, prefix, func(key string, data json.RawMessage) error {
		part, err := types.UnmarshalPart(data)
		if err != nil {
			return fmt.Errorf("corrupt part at %s: %w", key, err)
		}
		parts = append(parts, part)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parts, nil
}
