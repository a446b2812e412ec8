package traveltek

import (
	"errors"
	"fmt"
)

// Sentinel errors for the remote source taxonomy. Connectivity failures are
// fatal to the current sync run; not-found is an expected "no data" signal.
var (
	ErrConnectivity = errors.New("traveltek: connectivity failure")
	ErrNotFound     = errors.New("traveltek: not found")
)

// TransientError wraps a transfer interruption after the retry budget is
// exhausted. Callers count it as a row-level failure and leave the row
// flagged for the next cycle.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("traveltek: transient failure after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ParseError indicates a document could not be decoded into a normalized
// record. Row-level: the original bytes are preserved for inspection.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("traveltek: parse error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("traveltek: parse error: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the remote path does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConnectivity reports whether err is a handshake/auth level failure.
func IsConnectivity(err error) bool { return errors.Is(err, ErrConnectivity) }

// IsTransient reports whether err is an exhausted-retry transfer failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsParseError reports whether err came from document parsing.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
