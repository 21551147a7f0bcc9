package publisher

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/sharesync/internal/event"
	"github.com/opencode-ai/sharesync/internal/keys"
	"github.com/opencode-ai/sharesync/pkg/types"
)

const (
	pipeSession = "ses_fedcba9876543210aabbccddeeff0011"
	pipeMessage = "msg_fedcba9876543210aabbccddeeff0011"
)

type staticSecrets map[string]string

func (s staticSecrets) Secret(sessionID string) (string, bool) {
	secret, ok := s[sessionID]
	return secret, ok
}

// syncRecorder is an httptest share server that records share_sync
// requests in arrival order.
type syncRecorder struct {
	mu       sync.Mutex
	requests []types.ShareSyncRequest
	handler  func(w http.ResponseWriter, req types.ShareSyncRequest)
}

func (rec *syncRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req types.ShareSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.mu.Lock()
	rec.requests = append(rec.requests, req)
	rec.mu.Unlock()
	if rec.handler != nil {
		rec.handler(w, req)
		return
	}
	w.Write([]byte("{}"))
}

func (rec *syncRecorder) all() []types.ShareSyncRequest {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]types.ShareSyncRequest, len(rec.requests))
	copy(out, rec.requests)
	return out
}

func newTestPipeline(t *testing.T, rec *syncRecorder) *Pipeline {
	t.Helper()
	server := httptest.NewServer(rec)
	t.Cleanup(server.Close)

	secrets := staticSecrets{pipeSession: "s3cret"}
	pipeline := NewPipeline(NewClient(server.URL), secrets)
	return pipeline
}

func TestPipeline_RelaysStorageWrites(t *testing.T) {
	rec := &syncRecorder{}
	pipeline := newTestPipeline(t, rec)
	bus := event.NewBus()
	defer bus.Close()

	pipeline.Start(bus)
	defer pipeline.Close()

	key := keys.Info(pipeSession)
	event.StorageWrite.Publish(bus, event.StorageWriteProperties{
		Key:     key,
		Content: json.RawMessage(`{"title":"hello"}`),
	})

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)

	got := rec.all()[0]
	assert.Equal(t, pipeSession, got.SessionID)
	assert.Equal(t, "s3cret", got.Secret)
	assert.Equal(t, key, got.Key)
	assert.JSONEq(t, `{"title":"hello"}`, string(got.Content))
}

func TestPipeline_FiltersForeignKeysAndUnsharedSessions(t *testing.T) {
	rec := &syncRecorder{}
	pipeline := newTestPipeline(t, rec)
	bus := event.NewBus()
	defer bus.Close()

	pipeline.Start(bus)
	defer pipeline.Close()

	// Outside the session grammar, unrelated storage writes, valid keys
	// for unshared sessions, unknown families: all dropped.
	unshared := "ses_0000000000000000aabbccddeeff0011"
	for _, key := range []string{
		"share/" + pipeSession,
		"config/user",
		keys.Info(unshared),
		"session/bogus/whatever",
	} {
		event.StorageWrite.Publish(bus, event.StorageWriteProperties{Key: key, Content: json.RawMessage(`{}`)})
	}
	// A shared write afterwards proves the dispatcher is alive and the
	// earlier writes were dropped rather than queued.
	event.StorageWrite.Publish(bus, event.StorageWriteProperties{Key: keys.Info(pipeSession), Content: json.RawMessage(`{}`)})

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, keys.Info(pipeSession), rec.all()[0].Key)
}

func TestPipeline_CoalescesWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	var first sync.Once

	rec := &syncRecorder{}
	rec.handler = func(w http.ResponseWriter, req types.ShareSyncRequest) {
		blocked := false
		first.Do(func() {
			blocked = true
			close(started)
		})
		if blocked {
			<-gate
		}
		w.Write([]byte("{}"))
	}

	pipeline := newTestPipeline(t, rec)
	go pipeline.dispatch()
	defer pipeline.Close()

	partKey := keys.Part(pipeSession, pipeMessage, "prt_0000000000000001aabbccddeeff0011")
	msgKey := keys.Message(pipeSession, pipeMessage)

	pipeline.Enqueue(partKey, json.RawMessage(`{"rev":1}`))
	<-started // first POST is in flight and blocked

	pipeline.Enqueue(partKey, json.RawMessage(`{"rev":2}`))
	pipeline.Enqueue(partKey, json.RawMessage(`{"rev":3}`))
	pipeline.Enqueue(msgKey, json.RawMessage(`{"role":"assistant"}`))
	close(gate)

	require.Eventually(t, func() bool { return len(rec.all()) == 3 }, time.Second, 5*time.Millisecond)
	// Give a wrong 4th request a chance to show up before asserting.
	time.Sleep(20 * time.Millisecond)

	got := rec.all()
	require.Len(t, got, 3, "intermediate revisions must coalesce away")
	assert.Equal(t, partKey, got[0].Key)
	assert.JSONEq(t, `{"rev":1}`, string(got[0].Content))
	assert.Equal(t, partKey, got[1].Key)
	assert.JSONEq(t, `{"rev":3}`, string(got[1].Content), "only the newest pending revision is sent")
	assert.Equal(t, msgKey, got[2].Key)
}

func TestPipeline_PreservesFirstEnqueueOrder(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	var first sync.Once

	rec := &syncRecorder{}
	rec.handler = func(w http.ResponseWriter, req types.ShareSyncRequest) {
		blocked := false
		first.Do(func() {
			blocked = true
			close(started)
		})
		if blocked {
			<-gate
		}
		w.Write([]byte("{}"))
	}

	pipeline := newTestPipeline(t, rec)
	go pipeline.dispatch()
	defer pipeline.Close()

	infoKey := keys.Info(pipeSession)
	msgKey := keys.Message(pipeSession, pipeMessage)

	pipeline.Enqueue(infoKey, json.RawMessage(`{"n":0}`))
	<-started

	// info is re-written after msg entered the queue; it must still be
	// sent before msg because it was queued first.
	pipeline.Enqueue(infoKey, json.RawMessage(`{"n":1}`))
	pipeline.Enqueue(msgKey, json.RawMessage(`{}`))
	pipeline.Enqueue(infoKey, json.RawMessage(`{"n":2}`))
	close(gate)

	require.Eventually(t, func() bool { return len(rec.all()) == 3 }, time.Second, 5*time.Millisecond)
	got := rec.all()
	assert.Equal(t, infoKey, got[1].Key)
	assert.JSONEq(t, `{"n":2}`, string(got[1].Content))
	assert.Equal(t, msgKey, got[2].Key)
}

func TestPipeline_CloseDrainsPending(t *testing.T) {
	rec := &syncRecorder{}
	rec.handler = func(w http.ResponseWriter, req types.ShareSyncRequest) {
		time.Sleep(5 * time.Millisecond)
		w.Write([]byte("{}"))
	}
	pipeline := newTestPipeline(t, rec)

	// Enqueue before the dispatcher ever runs, then rely on Close's
	// drain to flush everything.
	for i := 0; i < 5; i++ {
		partID := fmt.Sprintf("prt_%032d", i)
		pipeline.Enqueue(keys.Part(pipeSession, pipeMessage, partID), json.RawMessage(`{}`))
	}
	go pipeline.dispatch()
	pipeline.Close()

	assert.Len(t, rec.all(), 5, "Close drains the queue before returning")
}
