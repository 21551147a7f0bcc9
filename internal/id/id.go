// Package id generates prefixed, time-sortable identifiers for
// sessions, messages, and parts.
//
// An identifier is a prefix tag, an underscore, and a fixed-length hex
// payload: 48 bits of millisecond timestamp and a 12-bit counter packed
// into 15 hex characters, followed by 14 random bytes as 28 hex
// characters. Because the time+counter component is fixed width and
// monotonic within a process, lexicographic order of ascending ids
// equals creation order. Descending ids complement the time+counter
// bits so lexicographic order is reverse creation order; session ids
// use this so newest-first listing is a plain ascending scan.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Identifier prefixes. The prefix encodes the entity type and is
// validated whenever an id crosses a trust boundary.
const (
	PrefixSession = "ses"
	PrefixMessage = "msg"
	PrefixPart    = "prt"
)

// ErrInvalidID indicates a caller-supplied id failed validation.
var ErrInvalidID = errors.New("invalid id")

const (
	// time+counter occupies 60 bits: 48-bit unix milliseconds and a
	// 12-bit counter that resets every tick.
	timeBits    = 60
	counterBits = 12
	counterMax  = 1<<counterBits - 1
	timeMask    = uint64(1)<<timeBits - 1

	randomBytes = 14
	hexLength   = timeBits/4 + randomBytes*2
)

var (
	mu         sync.Mutex
	lastMillis int64
	counter    uint64
	nowMillis  = func() int64 { return time.Now().UnixMilli() }
)

// Ascending returns a new id with the given prefix whose lexicographic
// order matches creation order.
func Ascending(prefix string) string {
	return generate(prefix, false)
}

// Descending returns a new id with the given prefix whose lexicographic
// order is the reverse of creation order.
func Descending(prefix string) string {
	return generate(prefix, true)
}

// Validate checks that id carries the expected prefix and a non-empty
// payload. It returns ErrInvalidID otherwise. Payload length is not
// checked so ids minted by other writers remain acceptable.
func Validate(prefix, id string) error {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	if !ok {
		return fmt.Errorf("%w: %q does not have prefix %q", ErrInvalidID, id, prefix)
	}
	if rest == "" {
		return fmt.Errorf("%w: %q has an empty payload", ErrInvalidID, id)
	}
	return nil
}

func generate(prefix string, descending bool) string {
	stamp := nextStamp()
	if descending {
		stamp = ^stamp & timeMask
	}

	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("id: reading random bytes: %v", err))
	}

	return fmt.Sprintf("%s_%015x%s", prefix, stamp, hex.EncodeToString(buf))
}

// nextStamp packs the current millisecond and intra-millisecond counter
// into 60 bits. If the counter saturates, it waits for the next tick so
// monotonicity is never silently broken.
func nextStamp() uint64 {
	mu.Lock()
	defer mu.Unlock()

	now := nowMillis()
	if now != lastMillis {
		lastMillis = now
		counter = 0
	}
	if counter >= counterMax {
		for now <= lastMillis {
			time.Sleep(time.Millisecond / 4)
			now = nowMillis()
		}
		lastMillis = now
		counter = 0
	}
	counter++

	return uint64(lastMillis)<<counterBits | counter
}
