package httpapi

import (
	"errors"
	"fmt"
)

// Sentinel error kinds classified at the HTTP boundary via errors.Is,
// never by matching error message strings.
var (
	// ErrValidation covers malformed input: missing containerId,
	// unknown control verb, a disallowed action.
	ErrValidation = errors.New("validation error")

	// ErrNotConfigured covers a request that can't be served given
	// current configuration: no enabled hosts, controls disabled.
	ErrNotConfigured = errors.New("not configured")

	// ErrConflict covers a state conflict: a duplicate host URL.
	ErrConflict = errors.New("conflict")

	// ErrNotFound covers a missing host or container.
	ErrNotFound = errors.New("not found")
)

// wrappedError pairs a sentinel kind with a human-readable message so
// handlers can both classify (errors.Is) and report (Error()) in one
// value.
type wrappedError struct {
	kind error
	msg  string
}

func (e *wrappedError) Error() string { return e.msg }
func (e *wrappedError) Unwrap() error { return e.kind }

func validationErrorf(format string, args ...any) error {
	return &wrappedError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

func notConfiguredErrorf(format string, args ...any) error {
	return &wrappedError{kind: ErrNotConfigured, msg: fmt.Sprintf(format, args...)}
}

func notFoundErrorf(format string, args ...any) error {
	return &wrappedError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}
