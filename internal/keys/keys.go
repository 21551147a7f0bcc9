// Package keys implements the session key grammar shared by the author
// pipeline and the share server. Exactly three shapes are legal:
//
//	session/info/<sesID>
//	session/message/<sesID>/<msgID>
//	session/part/<sesID>/<msgID>/<partID>
//
// Anything else is rejected before it can reach storage.
package keys

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opencode-ai/sharesync/internal/id"
)

// Prefix is the first segment of every syncable key. Storage writes
// outside this prefix are invisible to viewers.
const Prefix = "session"

// Family identifies which of the three key shapes a key has.
type Family string

const (
	FamilyInfo    Family = "info"
	FamilyMessage Family = "message"
	FamilyPart    Family = "part"
)

// ErrInvalidKey indicates a key that does not match the grammar.
var ErrInvalidKey = errors.New("invalid key")

// Key is a parsed session key. MessageID is empty for info keys and
// PartID is empty for info and message keys.
type Key struct {
	Family    Family
	SessionID string
	MessageID string
	PartID    string
}

// String reassembles the key in wire form.
func (k Key) String() string {
	switch k.Family {
	case FamilyMessage:
		return Prefix + "/message/" + k.SessionID + "/" + k.MessageID
	case FamilyPart:
		return Prefix + "/part/" + k.SessionID + "/" + k.MessageID + "/" + k.PartID
	default:
		return Prefix + "/info/" + k.SessionID
	}
}

// Info returns the info key for a session.
func Info(sessionID string) string {
	return Prefix + "/info/" + sessionID
}

// Message returns the key for one message of a session.
func Message(sessionID, messageID string) string {
	return Prefix + "/message/" + sessionID + "/" + messageID
}

// Part returns the key for one part of a message.
func Part(sessionID, messageID, partID string) string {
	return Prefix + "/part/" + sessionID + "/" + messageID + "/" + partID
}

// Parse validates raw against the grammar and splits it into its ids.
func Parse(raw string) (Key, error) {
	segments := strings.Split(raw, "/")
	if len(segments) < 3 || segments[0] != Prefix {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}

	switch Family(segments[1]) {
	case FamilyInfo:
		if len(segments) != 3 {
			return Key{}, fmt.Errorf("%w: info key %q must have exactly 3 segments", ErrInvalidKey, raw)
		}
		if err := id.Validate(id.PrefixSession, segments[2]); err != nil {
			return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, raw, err)
		}
		return Key{Family: FamilyInfo, SessionID: segments[2]}, nil

	case FamilyMessage:
		if len(segments) != 4 {
			return Key{}, fmt.Errorf("%w: message key %q must have exactly 4 segments", ErrInvalidKey, raw)
		}
		if err := id.Validate(id.PrefixSession, segments[2]); err != nil {
			return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, raw, err)
		}
		if err := id.Validate(id.PrefixMessage, segments[3]); err != nil {
			return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, raw, err)
		}
		return Key{Family: FamilyMessage, SessionID: segments[2], MessageID: segments[3]}, nil

	case FamilyPart:
		if len(segments) != 5 {
			return Key{}, fmt.Errorf("%w: part key %q must have exactly 5 segments", ErrInvalidKey, raw)
		}
		if err := id.Validate(id.PrefixSession, segments[2]); err != nil {
			return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, raw, err)
		}
		if err := id.Validate(id.PrefixMessage, segments[3]); err != nil {
			return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, raw, err)
		}
		if err := id.Validate(id.PrefixPart, segments[4]); err != nil {
			return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, raw, err)
		}
		return Key{Family: FamilyPart, SessionID: segments[2], MessageID: segments[3], PartID: segments[4]}, nil

	default:
		return Key{}, fmt.Errorf("%w: %q has unknown family %q", ErrInvalidKey, raw, segments[1])
	}
}
