package coordinator

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/sharesync/internal/blob"
	"github.com/opencode-ai/sharesync/internal/id"
	"github.com/opencode-ai/sharesync/internal/keys"
	"github.com/opencode-ai/sharesync/internal/kvstore"
	"github.com/opencode-ai/sharesync/internal/logging"
	"github.com/opencode-ai/sharesync/internal/metrics"
	"github.com/opencode-ai/sharesync/internal/viewer"
	"github.com/opencode-ai/sharesync/pkg/types"
)

// evictAfter is the number of consecutive slow sends a viewer survives
// before the coordinator drops it.
const evictAfter = 3

// Session owns all state for one shareName. Every operation funnels
// through a single goroutine, so reads and writes never interleave:
// a publish is durably stored and broadcast before the next request is
// taken, and an attaching viewer replays the backlog and joins the
// viewer set in the same turn.
type Session struct {
	name  string
	store *kvstore.Store
	blobs blob.Store
	web   string
	log   zerolog.Logger

	requests chan func()
	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}

	// Owned by run(). Never touched from outside the actor goroutine.
	record  *kvstore.ShareRecord
	viewers map[string]*viewerState
}

type viewerState struct {
	stream viewer.Stream
	slow   int
}

func newSession(name string, store *kvstore.Store, blobs blob.Store, webDomain string) *Session {
	s := &Session{
		name:     name,
		store:    store,
		blobs:    blobs,
		web:      webDomain,
		log:      logging.With().Str("share", name).Logger(),
		requests: make(chan func(), 16),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		viewers:  make(map[string]*viewerState),
	}

	record, err := store.GetShare(name)
	if err != nil && err != kvstore.ErrNotFound {
		s.log.Error().Err(err).Msg("loading share record")
	}
	s.record = record

	go s.run()
	return s
}

// halt asks the actor to exit after the in-flight request. Queued
// requests may be abandoned; their callers get ErrCancelled.
func (s *Session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.requests:
			fn()
		case <-s.stop:
			s.closeViewers(viewer.CodeGoingAway, viewer.ReasonServerShutdown)
			return
		}
	}
}

func (s *Session) enqueue(ctx context.Context, fn func()) error {
	select {
	case s.requests <- fn:
		return nil
	case <-s.stop:
		return fmt.Errorf("%w: session stopping", ErrCancelled)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
}

func (s *Session) wait(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case <-s.stopped:
		// The actor may have finished the request just before exiting.
		select {
		case err := <-reply:
			return err
		default:
			return fmt.Errorf("%w: session stopped", ErrCancelled)
		}
	}
}

// Share claims the shareName for sessionID and returns the write secret
// and the viewer URL. The first claim mints the secret; repeating the
// call for the same session returns the same credentials. A different
// session asking for an already-claimed name gets ErrConflict.
func (s *Session) Share(ctx context.Context, sessionID string) (secret, url string, err error) {
	if err := id.Validate(id.PrefixSession, sessionID); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	reply := make(chan error, 1)
	err = s.enqueue(ctx, func() {
		sec, u, err := s.share(sessionID)
		if err == nil {
			secret, url = sec, u
		}
		reply <- err
	})
	if err != nil {
		return "", "", err
	}
	// The reply send happens after the captures are written, so reading
	// them after wait returns nil is safe.
	if err := s.wait(ctx, reply); err != nil {
		return "", "", err
	}
	return secret, url, nil
}

func (s *Session) share(sessionID string) (string, string, error) {
	if s.record != nil {
		if s.record.SessionID == sessionID {
			return s.record.Secret, s.viewerURL(), nil
		}
		return "", "", fmt.Errorf("%w: %s", ErrConflict, s.name)
	}
	record := &kvstore.ShareRecord{
		ShareName: s.name,
		SessionID: sessionID,
		Secret:    uuid.NewString(),
		Created:   time.Now().UnixMilli(),
	}
	if err := s.store.PutShare(record); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	s.record = record
	s.log.Info().Str("session", sessionID).Msg("share created")
	metrics.SharesCreated.Inc()
	return record.Secret, s.viewerURL(), nil
}

func (s *Session) viewerURL() string {
	return fmt.Sprintf("https://%s/s/%s", s.web, s.name)
}

// Publish validates and durably stores one key/content pair, then fans
// the frame out to every attached viewer. The returned error reflects
// the durable write only: broadcast failures merely evict viewers.
func (s *Session) Publish(ctx context.Context, secret, key string, content json.RawMessage) error {
	reply := make(chan error, 1)
	err := s.enqueue(ctx, func() {
		err := s.storeEntry(ctx, secret, key, content)
		reply <- err
		if err == nil {
			s.broadcast(types.Frame{Key: key, Content: content})
		}
	})
	if err != nil {
		return err
	}
	return s.wait(ctx, reply)
}

func (s *Session) storeEntry(ctx context.Context, secret, key string, content json.RawMessage) error {
	if err := s.authorize(secret); err != nil {
		return err
	}
	parsed, err := keys.Parse(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if parsed.SessionID != s.record.SessionID {
		return fmt.Errorf("%w: key session %q does not match share session", ErrBadRequest, parsed.SessionID)
	}
	if len(content) == 0 {
		return fmt.Errorf("%w: content is required", ErrBadRequest)
	}
	if err := s.store.PutEntry(s.name, key, content); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := s.blobs.Put(ctx, blobKey(key), content, blob.ContentTypeJSON); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return fmt.Errorf("%w: blob mirror: %v", ErrTransient, err)
	}
	metrics.Publishes.Inc()
	return nil
}

// Clear deletes every stored entry and mirrored object and closes all
// viewers. The share record itself survives, so the same secret keeps
// working if the author shares again.
func (s *Session) Clear(ctx context.Context, secret string) error {
	reply := make(chan error, 1)
	err := s.enqueue(ctx, func() {
		reply <- s.clear(ctx, secret)
	})
	if err != nil {
		return err
	}
	return s.wait(ctx, reply)
}

func (s *Session) clear(ctx context.Context, secret string) error {
	if err := s.authorize(secret); err != nil {
		return err
	}
	entries, err := s.store.ListEntries(s.name, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	// Blob objects go first: if one delete fails the kv index still
	// knows the key, and a retried clear can finish the sweep.
	for _, entry := range entries {
		if err := s.blobs.Delete(ctx, blobKey(entry.Key)); err != nil && err != blob.ErrNotFound {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			return fmt.Errorf("%w: blob delete %s: %v", ErrTransient, entry.Key, err)
		}
	}
	if err := s.store.DeleteEntries(s.name, ""); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	s.closeViewers(viewer.CodeNormal, viewer.ReasonShareDeleted)
	s.log.Info().Int("entries", len(entries)).Msg("share cleared")
	return nil
}

// Dump assembles the full read model: the session info object plus
// every message joined with its parts, in the order they were first
// published.
func (s *Session) Dump(ctx context.Context) (*types.ShareData, error) {
	var data *types.ShareData
	reply := make(chan error, 1)
	err := s.enqueue(ctx, func() {
		var err error
		data, err = s.dump()
		reply <- err
	})
	if err != nil {
		return nil, err
	}
	if err := s.wait(ctx, reply); err != nil {
		return nil, err
	}
	return data, nil
}

// Attach replays the backlog to the stream and adds it to the viewer
// set in a single turn, so no publish can slip between snapshot and
// subscription. A failed backlog send closes the stream and aborts.
func (s *Session) Attach(ctx context.Context, stream viewer.Stream) error {
	reply := make(chan error, 1)
	err := s.enqueue(ctx, func() {
		reply <- s.attach(stream)
	})
	if err != nil {
		return err
	}
	return s.wait(ctx, reply)
}

func (s *Session) attach(stream viewer.Stream) error {
	if s.record == nil {
		stream.Close(viewer.CodeGoingAway, "share not found")
		return ErrNotFound
	}
	entries, err := s.store.ListEntries(s.name, keys.Prefix+"/")
	if err != nil {
		stream.Close(viewer.CodeGoingAway, "backlog unavailable")
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	for _, entry := range entries {
		if err := stream.Send(types.Frame{Key: entry.Key, Content: entry.Content}); err != nil {
			stream.Close(viewer.CodeGoingAway, "backlog send failed")
			return fmt.Errorf("%w: backlog: %v", ErrTransient, err)
		}
	}
	s.viewers[stream.ID()] = &viewerState{stream: stream}
	metrics.ViewersConnected.Inc()
	s.log.Debug().Str("viewer", stream.ID()).Int("backlog", len(entries)).Msg("viewer attached")

	go func() {
		select {
		case <-stream.Done():
		case <-s.stop:
			return
		}
		s.detach(stream.ID())
	}()
	return nil
}

// detach is invoked from the stream's Done watcher; it re-enters the
// actor so the viewer map is only ever touched by run().
func (s *Session) detach(streamID string) {
	fn := func() {
		if _, ok := s.viewers[streamID]; ok {
			delete(s.viewers, streamID)
			metrics.ViewersConnected.Dec()
			s.log.Debug().Str("viewer", streamID).Msg("viewer detached")
		}
	}
	select {
	case s.requests <- fn:
	case <-s.stop:
	}
}

func (s *Session) broadcast(frame types.Frame) {
	for streamID, state := range s.viewers {
		err := state.stream.Send(frame)
		switch {
		case err == nil:
			state.slow = 0
			metrics.FramesSent.Inc()
		case err == viewer.ErrSlowViewer:
			state.slow++
			metrics.FramesDropped.Inc()
			if state.slow >= evictAfter {
				s.log.Warn().Str("viewer", streamID).Msg("evicting slow viewer")
				state.stream.Close(viewer.CodeGoingAway, "viewer too slow")
				delete(s.viewers, streamID)
				metrics.ViewersConnected.Dec()
				metrics.ViewerEvictions.Inc()
			}
		default:
			delete(s.viewers, streamID)
			metrics.ViewersConnected.Dec()
		}
	}
}

func (s *Session) closeViewers(code int, reason string) {
	for streamID, state := range s.viewers {
		state.stream.Close(code, reason)
		delete(s.viewers, streamID)
		metrics.ViewersConnected.Dec()
	}
}

func (s *Session) authorize(secret string) error {
	if secret == "" {
		return ErrUnauthorized
	}
	if s.record == nil {
		return fmt.Errorf("%w: %s has no session", ErrForbidden, s.name)
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.record.Secret)) != 1 {
		return ErrForbidden
	}
	return nil
}

func blobKey(key string) string {
	return "share/" + key + ".json"
}
