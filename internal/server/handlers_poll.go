package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/opencode-ai/sharesync/internal/logging"
	"github.com/opencode-ai/sharesync/internal/viewer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Viewers connect from the public web domain, not the API origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// sharePoll handles GET /share_poll: upgrades to a websocket and hands
// the stream to the share's coordinator, which replays the backlog and
// keeps the viewer attached for live frames.
func (s *Server) sharePoll(w http.ResponseWriter, r *http.Request) {
	shareName := r.URL.Query().Get("id")
	if shareName == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "id is required")
		return
	}

	exists, err := s.registry.Exists(shareName)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "share not found")
		return
	}

	if !websocket.IsWebSocketUpgrade(r) {
		writeError(w, http.StatusUpgradeRequired, ErrCodeUpgradeNeeded, "websocket upgrade required")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		logging.Debug().Err(err).Str("share", shareName).Msg("websocket upgrade failed")
		return
	}

	stream := viewer.NewConn(ws, s.config.Viewer)

	// Attach uses the request context only to bound the enqueue: once
	// the handler returns, the connection is hijacked and lives on the
	// stream's own goroutines.
	if err := s.registry.Get(shareName).Attach(r.Context(), stream); err != nil {
		logging.Warn().Err(err).Str("share", shareName).Str("viewer", stream.ID()).Msg("viewer attach failed")
	}
}
