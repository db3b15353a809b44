package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrTunnelNotFound means the requested tunnel ID does not exist or has
	// expired.
	ErrTunnelNotFound = errors.New("tunnel not found")

	// ErrTunnelExists indicates a registration for an ID that is already taken.
	ErrTunnelExists = errors.New("tunnel already exists")

	// ErrTunnelInactive means the tunnel exists but has been deactivated.
	// Every access attempt fails regardless of credential correctness.
	ErrTunnelInactive = errors.New("tunnel inactive")

	// ErrUnauthorized indicates a missing or invalid admin credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidCredentials indicates a failed user login. Deliberately not
	// distinguished from an unknown username at the API boundary; the
	// distinction is recorded in the activity log only.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken covers every session token rejection: malformed input,
	// signature mismatch, tunnel mismatch, or expiry.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrUserExists is returned when adding a username that is already
	// registered under the tunnel.
	ErrUserExists = errors.New("username already exists")

	// ErrMaxUsersReached is returned when a tunnel's user ceiling would be
	// exceeded.
	ErrMaxUsersReached = errors.New("maximum users reached")
)

// FieldError reports a missing or malformed request field. It is
// user-correctable and maps to a 400 response.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing required field: %s", e.Field)
	}
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

// TunnelError wraps an underlying error with tunnel context.
type TunnelError struct {
	TunnelID string
	Op       string
	Err      error
}

func (e *TunnelError) Error() string {
	if e.TunnelID != "" {
		return fmt.Sprintf("tunnel %s: %s: %v", e.TunnelID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TunnelError) Unwrap() error {
	return e.Err
}
