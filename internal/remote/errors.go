// Package remote wraps the file-hosting service behind a versioned accessor:
// metadata reads, content downloads and precondition uploads, with transparent
// credential refresh and bounded retries.
package remote

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuthExpired marks a call rejected for expired or invalid
	// credentials. The accessor refreshes and retries exactly once before
	// letting this surface.
	ErrAuthExpired = errors.New("remote credentials expired")

	// ErrServiceUnavailable marks a transient failure (network, 5xx,
	// throttling). Retried with backoff.
	ErrServiceUnavailable = errors.New("remote service unavailable")

	// ErrMalformedContent marks a remote file whose bytes do not parse as a
	// trade document. Never downgraded to an empty document: an unparsable
	// file must not drive a data-destroying reconciliation.
	ErrMalformedContent = errors.New("remote content is malformed")

	// ErrNotFound marks a missing file or folder.
	ErrNotFound = errors.New("remote file not found")
)

// ConflictError is returned by a precondition upload when the live remote
// revision no longer matches the expected one. It carries what the caller
// needs for first-edit-wins arbitration.
type ConflictError struct {
	LiveRevision string
	ModifiedTime time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote revision conflict: live revision %s (modified %s)",
		e.LiveRevision, e.ModifiedTime.Format(time.RFC3339))
}

// AsConflict unwraps a ConflictError if err carries one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
