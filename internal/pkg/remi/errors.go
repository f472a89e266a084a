package remi

import "fmt"

// AuthError signals bad credentials or an expired/invalidated session.
// Callers use it to decide between re-authentication and a plain retry.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "remi: authentication failed: " + e.Reason
}

// HTTPError is any non-2xx response other than 401.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remi: http %d: %s", e.Status, e.Body)
}

// TransportError is a network or timeout failure. Reads against /classes/
// paths get one POST fallback when they fail with a TransportError.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remi: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NotFoundError is a semantic lookup failure, e.g. an unknown face name.
type NotFoundError struct {
	Resource string
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("remi: %s %q not found", e.Resource, e.Name)
}

// ValidationError covers malformed caller input, such as an update with no
// fields set.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "remi: invalid request: " + e.Reason
}
