// Package share manages the author's shares: claiming a share on the
// server, keeping the private secret on disk, and replaying already
// written session state into the publisher pipeline when a share is
// created after the fact.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/sharesync/internal/event"
	"github.com/opencode-ai/sharesync/internal/keys"
	"github.com/opencode-ai/sharesync/internal/logging"
	"github.com/opencode-ai/sharesync/internal/publisher"
	"github.com/opencode-ai/sharesync/internal/storage"
	"github.com/opencode-ai/sharesync/pkg/types"
)

// ErrNotShared indicates the session has no share to operate on.
var ErrNotShared = errors.New("session is not shared")

// ErrSessionNotFound indicates the session does not exist locally.
var ErrSessionNotFound = errors.New("session not found")

// Service owns the author-side share lifecycle. It implements
// publisher.SecretSource so the pipeline can authorize syncs.
type Service struct {
	storage  *storage.Storage
	client   *publisher.Client
	bus      *event.Bus
	pipeline *publisher.Pipeline
	log      zerolog.Logger
}

// NewService creates a share service backed by the given storage and
// share API client.
func NewService(store *storage.Storage, client *publisher.Client, bus *event.Bus) *Service {
	return &Service{
		storage: store,
		client:  client,
		bus:     bus,
		log:     logging.With().Str("component", "share").Logger(),
	}
}

// SetPipeline wires the publisher pipeline used to replay existing
// session state after Create. Without one, only writes that happen
// after the share is created reach the server.
func (s *Service) SetPipeline(p *publisher.Pipeline) {
	s.pipeline = p
}

func infoKey(sessionID string) string {
	return "share/" + sessionID
}

// Create shares sessionID. The first call claims a share on the server
// and persists the returned secret; repeat calls return the existing
// share. Session state written before the share existed is replayed
// into the pipeline so viewers get a complete backlog.
func (s *Service) Create(ctx context.Context, sessionID string) (*types.ShareInfo, error) {
	var info types.ShareInfo
	err := s.storage.Get(ctx, infoKey(sessionID), &info)
	if err == nil {
		// Crash recovery: the share record can exist while the session
		// update never landed.
		if err := s.ensureSessionShare(ctx, sessionID, info.URL); err != nil {
			s.log.Warn().Err(err).Str("session", sessionID).Msg("failed to restore share url on session")
		}
		return &info, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if !s.storage.Exists(ctx, keys.Info(sessionID)) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	resp, err := s.client.ShareCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("share create: %w", err)
	}

	info = types.ShareInfo{Secret: resp.Secret, URL: resp.URL}
	// The secret must be on disk before any session write fires, or the
	// pipeline will drop the writes as unshared.
	if err := s.storage.Put(ctx, infoKey(sessionID), info); err != nil {
		return nil, err
	}

	if err := s.ensureSessionShare(ctx, sessionID, info.URL); err != nil {
		return nil, err
	}
	s.replay(ctx, sessionID)

	event.ShareCreated.Publish(s.bus, event.ShareCreatedProperties{SessionID: sessionID, URL: info.URL})
	s.log.Info().Str("session", sessionID).Str("url", info.URL).Msg("session shared")
	return &info, nil
}

// Remove unshares sessionID: the server clears all published state and
// closes viewers, then the local secret is discarded. The server call
// comes first so a failure leaves the share intact for a retry.
func (s *Service) Remove(ctx context.Context, sessionID string) error {
	var info types.ShareInfo
	if err := s.storage.Get(ctx, infoKey(sessionID), &info); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotShared
		}
		return err
	}

	if err := s.client.ShareDelete(ctx, sessionID, info.Secret); err != nil {
		return fmt.Errorf("share delete: %w", err)
	}

	if err := s.storage.Delete(ctx, infoKey(sessionID)); err != nil {
		return err
	}

	var session types.Session
	err := s.storage.Get(ctx, keys.Info(sessionID), &session)
	if err == nil && session.Share != nil {
		session.Share = nil
		session.Time.Updated = time.Now().UnixMilli()
		if err := s.storage.Put(ctx, keys.Info(sessionID), session); err != nil {
			return err
		}
	}

	event.ShareDeleted.Publish(s.bus, event.ShareDeletedProperties{SessionID: sessionID})
	s.log.Info().Str("session", sessionID).Msg("session unshared")
	return nil
}

// Get returns the share info for sessionID, or ErrNotShared.
func (s *Service) Get(ctx context.Context, sessionID string) (*types.ShareInfo, error) {
	var info types.ShareInfo
	if err := s.storage.Get(ctx, infoKey(sessionID), &info); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotShared
		}
		return nil, err
	}
	return &info, nil
}

// IsShared reports whether sessionID has a share.
func (s *Service) IsShared(ctx context.Context, sessionID string) bool {
	return s.storage.Exists(ctx, infoKey(sessionID))
}

// Secret implements publisher.SecretSource.
func (s *Service) Secret(sessionID string) (string, bool) {
	var info types.ShareInfo
	if err := s.storage.Get(context.Background(), infoKey(sessionID), &info); err != nil {
		return "", false
	}
	return info.Secret, true
}

// ensureSessionShare records the viewer URL on the session object. The
// write goes through storage.Put, so it also syncs the updated info key
// to the server.
func (s *Service) ensureSessionShare(ctx context.Context, sessionID, url string) error {
	var session types.Session
	if err := s.storage.Get(ctx, keys.Info(sessionID), &session); err != nil {
		return err
	}
	if session.Share != nil && session.Share.URL == url {
		return nil
	}
	session.Share = &types.SessionShare{URL: url}
	session.Time.Updated = time.Now().UnixMilli()
	return s.storage.Put(ctx, keys.Info(sessionID), session)
}

// replay pushes every already-stored message and part of the session
// into the pipeline. The info key is covered by ensureSessionShare's
// write. Replay failures are logged, not fatal: the share exists and
// future writes will sync.
func (s *Service) replay(ctx context.Context, sessionID string) {
	if s.pipeline == nil {
		return
	}
	for _, prefix := range []string{
		keys.Prefix + "/message/" + sessionID,
		keys.Prefix + "/part/" + sessionID,
	} {
		err := s.storage.Scan(ctx, prefix, func(key string, data json.RawMessage) error {
			s.pipeline.Enqueue(key, data)
			return nil
		})
		if err != nil {
			s.log.Warn().Err(err).Str("prefix", prefix).Msg("replay scan failed")
		}
	}
}
