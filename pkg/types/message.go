package types

// Message represents either a user or assistant message in a session.
// The share server never interprets messages; this type exists for the
// author side, which produces them, and for viewers that reassemble them.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"` // "user" | "assistant"
	Time      MessageTime `json:"time"`

	// Assistant-specific fields
	ModelID    string        `json:"modelID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	Finish     *string       `json:"finish,omitempty"`
	Cost       float64       `json:"cost"`
	Tokens     *TokenUsage   `json:"tokens,omitempty"`
	Error      *MessageError `json:"error,omitempty"`
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// MessageError represents an error that occurred during message processing.
// Format: {"name": "UnknownError", "data": {"message": "..."}}
type MessageError struct {
	Name string           `json:"name"`
	Data MessageErrorData `json:"data"`
}

// MessageErrorData contains the error details.
type MessageErrorData struct {
	Message string `json:"message"`
}
