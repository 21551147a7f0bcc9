// Package viewer provides the server side of one viewer's streaming
// connection. The coordinator holds viewers only through the Stream
// interface, so it never touches the websocket transport directly; the
// HTTP layer upgrades the connection and injects a Conn.
package viewer

import (
	"errors"

	"github.com/opencode-ai/sharesync/pkg/types"
)

var (
	// ErrSlowViewer indicates a send that timed out because the viewer
	// is not draining its buffer. The frame is dropped for that viewer;
	// repeated timeouts get the viewer evicted by the coordinator.
	ErrSlowViewer = errors.New("viewer too slow")

	// ErrClosed indicates a send on a stream that has already closed.
	ErrClosed = errors.New("viewer stream closed")
)

// Close codes, matching the websocket registered status codes so the
// coordinator can express intent without importing the transport.
const (
	CodeNormal    = 1000
	CodeGoingAway = 1001
)

// Close reasons sent to viewers.
const (
	ReasonShareDeleted   = "share deleted"
	ReasonServerShutdown = "server shutting down"
)

// Stream is the coordinator's handle on one attached viewer.
//
// Send never blocks beyond the stream's bounded send timeout; it
// returns ErrSlowViewer if the frame had to be dropped and ErrClosed if
// the stream is gone. Close is idempotent. Done is closed when the
// stream is torn down for any reason, including the peer disconnecting.
type Stream interface {
	ID() string
	Send(frame types.Frame) error
	Close(code int, reason string)
	Done() <-chan struct{}
}
