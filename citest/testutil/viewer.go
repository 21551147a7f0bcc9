package testutil

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/opencode-ai/sharesync/pkg/types"
)

// Viewer is a websocket client for share_poll. It reads frames in the
// background; tests poll FrameCount and Frames from the assertion side.
type Viewer struct {
	conn *websocket.Conn

	mu          sync.Mutex
	frames      []types.Frame
	closeCode   int
	closeReason string

	done chan struct{}
}

// DialViewer connects a viewer to wsBaseURL for the given shareName and
// starts collecting frames.
func DialViewer(wsBaseURL, shareName string) (*Viewer, error) {
	pollURL := fmt.Sprintf("%s/share_poll?id=%s", wsBaseURL, url.QueryEscape(shareName))
	conn, resp, err := websocket.DefaultDialer.Dial(pollURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect viewer: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect viewer: %w", err)
	}

	v := &Viewer{
		conn:      conn,
		closeCode: -1,
		done:      make(chan struct{}),
	}
	go v.read()
	return v, nil
}

func (v *Viewer) read() {
	defer close(v.done)
	for {
		var frame types.Frame
		if err := v.conn.ReadJSON(&frame); err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				v.mu.Lock()
				v.closeCode = ce.Code
				v.closeReason = ce.Text
				v.mu.Unlock()
			}
			return
		}
		v.mu.Lock()
		v.frames = append(v.frames, frame)
		v.mu.Unlock()
	}
}

// FrameCount returns how many frames arrived so far.
func (v *Viewer) FrameCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.frames)
}

// Frames returns a copy of all frames received so far, in arrival order.
func (v *Viewer) Frames() []types.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]types.Frame, len(v.frames))
	copy(out, v.frames)
	return out
}

// FramesFor returns the frames received for one key, in arrival order.
func (v *Viewer) FramesFor(key string) []types.Frame {
	var out []types.Frame
	for _, f := range v.Frames() {
		if f.Key == key {
			out = append(out, f)
		}
	}
	return out
}

// CloseCode returns the close code and reason sent by the server, or
// -1 if the connection is still open or died without a close frame.
func (v *Viewer) CloseCode() (int, string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closeCode, v.closeReason
}

// Done is closed when the server ends the stream.
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

// Closed reports whether the stream has ended.
func (v *Viewer) Closed() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

// Close tears the connection down from the client side.
func (v *Viewer) Close() error {
	return v.conn.Close()
}
