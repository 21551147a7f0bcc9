package types

import "encoding/json"

// ShareCreateRequest is the body of POST /share_create.
type ShareCreateRequest struct {
	SessionID string `json:"sessionID"`
}

// ShareCreateResponse is the success response of POST /share_create.
// Calling share_create again for the same session returns the same
// secret and URL.
type ShareCreateResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// ShareSyncRequest is the body of POST /share_sync. Content is opaque
// to the server and relayed to viewers byte-for-byte.
type ShareSyncRequest struct {
	SessionID string          `json:"sessionID"`
	Secret    string          `json:"secret"`
	Key       string          `json:"key"`
	Content   json.RawMessage `json:"content"`
}

// ShareDeleteRequest is the body of POST /share_delete.
type ShareDeleteRequest struct {
	SessionID string `json:"sessionID"`
	Secret    string `json:"secret"`
}

// Frame is one message sent from the server to a viewer, both during
// backlog replay and live fan-out. One JSON object per frame.
type Frame struct {
	Key     string          `json:"key"`
	Content json.RawMessage `json:"content"`
}

// ShareData is the response of GET /share_data: the session info plus
// every message joined with its parts. Info is null until the author
// syncs the session/info key.
type ShareData struct {
	Info     json.RawMessage           `json:"info"`
	Messages map[string]map[string]any `json:"messages"`
}
