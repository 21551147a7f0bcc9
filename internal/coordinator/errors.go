package coordinator

import "errors"

// Error values returned by coordinator operations. The HTTP layer maps
// these onto status codes; everything else wraps them with %w so the
// mapping survives annotation.
var (
	// ErrBadRequest indicates a malformed payload or a key outside the
	// session grammar. Nothing was written.
	ErrBadRequest = errors.New("bad request")

	// ErrUnauthorized indicates a missing secret.
	ErrUnauthorized = errors.New("missing secret")

	// ErrForbidden indicates the presented secret does not match the
	// stored one.
	ErrForbidden = errors.New("secret mismatch")

	// ErrNotFound indicates the shareName has no session record.
	ErrNotFound = errors.New("share not found")

	// ErrConflict indicates a share whose name is already owned by a
	// different session.
	ErrConflict = errors.New("share name already taken")

	// ErrTransient indicates a downstream storage failure that may
	// succeed on retry.
	ErrTransient = errors.New("storage failure")

	// ErrCancelled indicates the operation was aborted by shutdown or
	// client disconnect.
	ErrCancelled = errors.New("cancelled")
)
