// Package types provides the core data types shared by the sharesync
// author client and the share server.
package types

// Session represents a conversation session on the author's machine.
// When a session is shared, its record doubles as the content of the
// session/info/<sessionID> key, so every field here is viewer-visible.
// The write secret is never part of this struct; see ShareInfo.
type Session struct {
	ID       string        `json:"id"`
	ParentID *string       `json:"parentID,omitempty"`
	Title    string        `json:"title"`
	Version  string        `json:"version"`
	Share    *SessionShare `json:"share,omitempty"`
	Time     SessionTime   `json:"time"`
	Cost     float64       `json:"cost"`
	Tokens   TokenUsage    `json:"tokens"`
}

// SessionTime contains timestamps for a session, in Unix milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// SessionShare is the public half of a share: the URL viewers browse to.
type SessionShare struct {
	URL string `json:"url"`
}

// ShareInfo is the author's private record of a share, stored locally
// under share/<sessionID> and never synced to the server.
type ShareInfo struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// TokenUsage contains cumulative token statistics.
// All fields are required by viewer UIs, do not use omitempty.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning"`
	Cache     CacheUsage `json:"cache"`
}

// CacheUsage contains cache hit/write statistics.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}
