package viewer

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/sharesync/internal/logging"
	"github.com/opencode-ai/sharesync/pkg/types"
)

// Options tunes one websocket viewer connection.
type Options struct {
	// SendTimeout bounds how long Send blocks when the outbound buffer
	// is full before dropping the frame.
	SendTimeout time.Duration
	// BufferSize is the outbound frame buffer; it absorbs fan-out
	// bursts so Send rarely waits at all.
	BufferSize int
	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration
	// PingInterval is how often to ping the peer.
	PingInterval time.Duration
	// PongTimeout is how long to wait for any read (pong included)
	// before declaring the peer dead.
	PongTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		SendTimeout:  2 * time.Second,
		BufferSize:   64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
	}
}

// Conn adapts a gorilla websocket connection to the Stream interface.
// One writer pump goroutine owns all writes; Send only enqueues. A
// reader goroutine discards anything the client sends (the protocol is
// strictly server-to-client) and turns a peer disconnect into Done.
type Conn struct {
	id   string
	ws   *websocket.Conn
	opts Options

	out  chan types.Frame
	done chan struct{}

	closeOnce sync.Once
	closeCode int
	closeText string
}

// NewConn wraps an upgraded websocket connection and starts its pumps.
func NewConn(ws *websocket.Conn, opts Options) *Conn {
	c := &Conn{
		id:   ulid.Make().String(),
		ws:   ws,
		opts: opts,
		out:  make(chan types.Frame, opts.BufferSize),
		done: make(chan struct{}),
	}

	go c.writePump()
	go c.readPump()

	return c
}

// ID returns the connection's identity, used in logs and metrics.
func (c *Conn) ID() string {
	return c.id
}

// Send enqueues one frame for delivery. It blocks at most SendTimeout
// when the buffer is full.
func (c *Conn) Send(frame types.Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	timer := time.NewTimer(c.opts.SendTimeout)
	defer timer.Stop()

	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	case <-timer.C:
		return ErrSlowViewer
	}
}

// Close sends a close control frame with the given code and reason,
// then tears the connection down. Safe to call repeatedly and
// concurrently with the pumps.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = reason
		close(c.done)
	})
}

// Done is closed once the connection is torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// writePump is the only goroutine that writes to the websocket. It
// drains the outbound buffer, keeps the peer alive with pings, and on
// shutdown delivers the close frame.
func (c *Conn) writePump() {
	ping := time.NewTicker(c.opts.PingInterval)
	defer ping.Stop()
	defer c.ws.Close()

	for {
		select {
		case frame := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteJSON(frame); err != nil {
				logging.Debug().Err(err).Str("viewer", c.id).Msg("viewer write failed")
				c.Close(CodeGoingAway, "write failed")
				return
			}
		case <-ping.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(CodeGoingAway, "ping failed")
				return
			}
		case <-c.done:
			// Flush whatever the coordinator managed to enqueue before
			// the close, then say goodbye.
			for {
				select {
				case frame := <-c.out:
					c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
					if c.ws.WriteJSON(frame) != nil {
						return
					}
				default:
					c.ws.WriteControl(
						websocket.CloseMessage,
						websocket.FormatCloseMessage(c.closeCode, c.closeText),
						time.Now().Add(time.Second),
					)
					return
				}
			}
		}
	}
}

// readPump consumes the client side of the socket. Viewers never send
// application frames; reads exist to service pongs and to notice the
// peer going away.
func (c *Conn) readPump() {
	c.ws.SetReadLimit(1 << 16)
	c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			c.Close(CodeGoingAway, "client disconnected")
			return
		}
	}
}

var _ Stream = (*Conn)(nil)
