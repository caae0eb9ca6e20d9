// Package apierr defines the typed error taxonomy that crosses the boundary
// between the runtime coordination core and its agent-facing callers
// (spec.md §7). Each kind is a distinct type so callers can distinguish
// them with errors.As rather than string matching.
package apierr

import (
	"errors"
	"fmt"
)

// UnknownRefError is returned when parseRef finds no entry in the current
// refIndex for a ref the agent supplied.
type UnknownRefError struct {
	Ref string
}

func (e *UnknownRefError) Error() string {
	return fmt.Sprintf("unknown reference %q — it may be stale; take a snapshot first", e.Ref)
}

// NewUnknownRef builds an UnknownRefError.
func NewUnknownRef(ref string) error { return &UnknownRefError{Ref: ref} }

// FrameDetachedError marks an operation that failed because its target
// frame vanished (detached, execution context destroyed, target/session
// closed) either during injection or during dispatch.
type FrameDetachedError struct {
	Cause error
}

func (e *FrameDetachedError) Error() string {
	if e.Cause == nil {
		return "frame detached"
	}
	return fmt.Sprintf("frame detached: %v", e.Cause)
}

func (e *FrameDetachedError) Unwrap() error { return e.Cause }

// NewFrameDetached builds a FrameDetachedError wrapping cause.
func NewFrameDetached(cause error) error { return &FrameDetachedError{Cause: cause} }

// IsFrameDetached reports whether err is (or wraps) a FrameDetachedError.
func IsFrameDetached(err error) bool {
	var fd *FrameDetachedError
	return errors.As(err, &fd)
}

// NavigationError marks a failed top-level navigation. Snapshot, if
// non-empty, is the best-effort error snapshot captured at failure time.
type NavigationError struct {
	URL      string
	Cause    error
	Snapshot string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %q failed: %v", e.URL, e.Cause)
}

func (e *NavigationError) Unwrap() error { return e.Cause }

// NewNavigation builds a NavigationError.
func NewNavigation(url string, cause error, snapshot string) error {
	return &NavigationError{URL: url, Cause: cause, Snapshot: snapshot}
}

// AuthenticationError marks a required-but-failed auth state load.
type AuthenticationError struct {
	Role  string
	Cause error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication required for role %q but could not be loaded: %v", e.Role, e.Cause)
}

func (e *AuthenticationError) Unwrap() error { return e.Cause }

// NewAuthentication builds an AuthenticationError.
func NewAuthentication(role string, cause error) error {
	return &AuthenticationError{Role: role, Cause: cause}
}
