package fleet

import (
	"errors"
	"fmt"
)

// ErrSensorUnavailable signals that no physical location capability
// exists; callers fall back to the simulator silently.
var ErrSensorUnavailable = errors.New("location sensor unavailable")

// ValidationError reports missing or malformed caller input. Surfaced,
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationError reports a role or company mismatch on an operator
// action. Surfaced, never retried.
type AuthorizationError struct {
	Identity Identity
	Action   string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s %q not authorized for %s", e.Identity.Role, e.Identity.ID, e.Action)
}

// TransientStoreError wraps a failed store call. The engine logs it and
// lets the next tick or caller action try again naturally.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }
