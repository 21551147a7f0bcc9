package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opencode-ai/sharesync/internal/event"
	"github.com/opencode-ai/sharesync/internal/publisher"
	"github.com/opencode-ai/sharesync/internal/session"
	"github.com/opencode-ai/sharesync/internal/share"
	"github.com/opencode-ai/sharesync/internal/storage"
	"github.com/opencode-ai/sharesync/pkg/types"
)

// Author runs the real author stack against a test server: temp file
// storage, event bus, session and share services, and the publisher
// pipeline. Its share_sync traffic passes through a SyncGate so tests
// can hold a POST in flight.
type Author struct {
	Bus      *event.Bus
	Storage  *storage.Storage
	Client   *publisher.Client
	Shares   *share.Service
	Sessions *session.Service
	Pipeline *publisher.Pipeline
	Gate     *SyncGate
	TempDir  string
}

// StartAuthor wires up an author stack pointed at serverURL.
func StartAuthor(serverURL string) (*Author, error) {
	tempDir, err := os.MkdirTemp("", "sharesync-author-*")
	if err != nil {
		return nil, err
	}

	bus := event.NewBus()
	store, err := storage.New(filepath.Join(tempDir, "storage"), bus)
	if err != nil {
		bus.Close()
		os.RemoveAll(tempDir)
		return nil, err
	}

	gate := NewSyncGate()
	client := publisher.NewClient(serverURL, publisher.WithHTTPClient(&http.Client{
		Timeout:   30 * time.Second,
		Transport: gate,
	}))

	shares := share.NewService(store, client, bus)
	pipeline := publisher.NewPipeline(client, shares)
	shares.SetPipeline(pipeline)
	pipeline.Start(bus)

	return &Author{
		Bus:      bus,
		Storage:  store,
		Client:   client,
		Shares:   shares,
		Sessions: session.NewService(store, bus, "citest"),
		Pipeline: pipeline,
		Gate:     gate,
		TempDir:  tempDir,
	}, nil
}

// Stop drains the pipeline and removes the temp storage.
func (a *Author) Stop() {
	a.Gate.Release()
	a.Pipeline.Close()
	a.Bus.Close()
	os.RemoveAll(a.TempDir)
}

// SyncGate is an http.RoundTripper that can hold share_sync requests in
// flight. While holding, each arriving share_sync signals its key on
// Arrived and then blocks until Release; everything else passes through
// untouched. This freezes the publisher pipeline's dispatcher at a
// known point so coalescing behind the in-flight POST is observable.
type SyncGate struct {
	next http.RoundTripper

	mu      sync.Mutex
	holding bool
	release chan struct{}
	arrived chan string
}

// NewSyncGate creates a gate that passes requests to the default
// transport.
func NewSyncGate() *SyncGate {
	return &SyncGate{
		next:    http.DefaultTransport,
		arrived: make(chan string, 16),
	}
}

// Hold makes subsequent share_sync requests block until Release.
func (g *SyncGate) Hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holding = true
	g.release = make(chan struct{})
}

// Release lets held and future share_sync requests through. Safe to
// call when not holding.
func (g *SyncGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holding {
		close(g.release)
		g.holding = false
	}
}

// Arrived receives the key of each share_sync request held at the gate.
func (g *SyncGate) Arrived() <-chan string {
	return g.arrived
}

func (g *SyncGate) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Path != "/share_sync" {
		return g.next.RoundTrip(req)
	}

	g.mu.Lock()
	holding := g.holding
	release := g.release
	g.mu.Unlock()

	if holding {
		select {
		case g.arrived <- syncKey(req):
		default:
		}
		select {
		case <-release:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	return g.next.RoundTrip(req)
}

// syncKey extracts the key field from a share_sync body, restoring the
// body for the onward request.
func syncKey(req *http.Request) string {
	if req.Body == nil {
		return ""
	}
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return ""
	}
	req.Body = io.NopCloser(bytes.NewReader(body))

	var sync types.ShareSyncRequest
	if err := json.Unmarshal(body, &sync); err != nil {
		return ""
	}
	return sync.Key
}
