package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/sharesync/internal/event"
	"github.com/opencode-ai/sharesync/internal/keys"
	"github.com/opencode-ai/sharesync/internal/logging"
	"github.com/opencode-ai/sharesync/pkg/types"
)

// DrainTimeout bounds how long Close waits for pending syncs to flush.
const DrainTimeout = 5 * time.Second

// SecretSource resolves the write secret for a shared session. Writes
// for sessions without a share are dropped by the pipeline.
type SecretSource interface {
	Secret(sessionID string) (string, bool)
}

type item struct {
	sessionID string
	secret    string
	content   json.RawMessage
}

// Pipeline watches local storage writes and relays them to the share
// server, one POST at a time. Writes to the same key coalesce while a
// sync is in flight: only the newest content is sent, at the position
// the key first entered the queue.
type Pipeline struct {
	client  *Client
	secrets SecretSource
	log     zerolog.Logger

	mu    sync.Mutex
	order []string
	items map[string]item
	wake  chan struct{}

	unsubscribe func()
	stop        chan struct{}
	stopOnce    sync.Once
	stopped     chan struct{}
}

// NewPipeline creates a pipeline that syncs through client, using
// secrets to decide which sessions are shared.
func NewPipeline(client *Client, secrets SecretSource) *Pipeline {
	return &Pipeline{
		client:  client,
		secrets: secrets,
		log:     logging.With().Str("component", "publisher").Logger(),
		items:   make(map[string]item),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start subscribes to storage writes on bus and begins dispatching.
func (p *Pipeline) Start(bus *event.Bus) {
	p.unsubscribe = event.StorageWrite.Subscribe(bus, func(w event.StorageWriteProperties) {
		p.Enqueue(w.Key, w.Content)
	})
	go p.dispatch()
}

// Enqueue schedules one key for syncing. Keys outside the session
// grammar and sessions without a share are ignored. Safe to call from
// any goroutine; the subscriber callback and the share service's
// initial replay both land here.
func (p *Pipeline) Enqueue(key string, content json.RawMessage) {
	parsed, err := keys.Parse(key)
	if err != nil {
		return
	}
	secret, ok := p.secrets.Secret(parsed.SessionID)
	if !ok {
		return
	}

	p.mu.Lock()
	if _, exists := p.items[key]; !exists {
		p.order = append(p.order, key)
	}
	p.items[key] = item{sessionID: parsed.SessionID, secret: secret, content: content}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Close stops the dispatcher, flushing pending syncs for at most
// DrainTimeout. Safe to call more than once.
func (p *Pipeline) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.stopped
}

func (p *Pipeline) dispatch() {
	defer close(p.stopped)
	for {
		select {
		case <-p.stop:
			p.drain()
			return
		case <-p.wake:
		}

		for {
			key, it, ok := p.next()
			if !ok {
				break
			}
			p.send(context.Background(), key, it)

			select {
			case <-p.stop:
				p.drain()
				return
			default:
			}
		}
	}
}

// next pops the oldest pending key. Coalescing happens here implicitly:
// whatever content the key holds at pop time is what gets sent.
func (p *Pipeline) next() (string, item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return "", item{}, false
	}
	key := p.order[0]
	p.order = p.order[1:]
	it := p.items[key]
	delete(p.items, key)
	return key, it, true
}

func (p *Pipeline) send(ctx context.Context, key string, it item) {
	err := p.client.ShareSync(ctx, types.ShareSyncRequest{
		SessionID: it.sessionID,
		Secret:    it.secret,
		Key:       key,
		Content:   it.content,
	})
	if err != nil {
		// No retry: the next local write re-enqueues the key anyway.
		p.log.Warn().Err(err).Str("key", key).Msg("share sync failed")
		return
	}
	p.log.Debug().Str("key", key).Msg("share sync sent")
}

func (p *Pipeline) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()
	for {
		key, it, ok := p.next()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			p.mu.Lock()
			remaining := len(p.order) + 1
			p.mu.Unlock()
			p.log.Warn().Int("pending", remaining).Msg("drain timed out, dropping pending syncs")
			return
		}
		p.send(ctx, key, it)
	}
}
