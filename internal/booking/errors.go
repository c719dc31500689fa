package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExpired is returned on 401/403 responses. The caller escalates
	// to session management; no token refresh is attempted here.
	ErrAuthExpired = errors.New("booking: session expired")
	// ErrRequestInFlight is returned when a mutating operation is issued
	// while another is still pending. Double-submit guard, not real
	// concurrency control.
	ErrRequestInFlight = errors.New("booking: another request is in flight")
	// ErrNotFound is returned when the referenced booking is not in the
	// local collection.
	ErrNotFound = errors.New("booking: not found in local collection")
)

// NetworkError wraps a transport-level failure. The operation was aborted
// and local state is unchanged; the caller decides whether to resubmit.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("booking: %s: network failure: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ConflictError reports a backend-detected overlap with an existing
// booking. The working-hours guard is advisory only, so conflicts are
// always possible at submission time.
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("booking: conflict: %s", e.Detail)
}

// ServerRejectedError carries a non-conflict backend rejection.
type ServerRejectedError struct {
	StatusCode int
	Detail     string
}

func (e *ServerRejectedError) Error() string {
	return fmt.Sprintf("booking: server rejected (%d): %s", e.StatusCode, e.Detail)
}
