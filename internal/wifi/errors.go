package wifi

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrorKind is the category of a radio failure.
type ErrorKind int

const (
	// KindCommand means the radio tool could not be run or exited non-zero.
	KindCommand ErrorKind = iota
	// KindParse means the radio tool answered with output we could not read.
	KindParse
	// KindTimeout means the radio did not answer in time.
	KindTimeout
)

// String returns a human-readable name for the kind
func (k ErrorKind) String() string {
	switch k {
	case KindCommand:
		return "Command Error"
	case KindParse:
		return "Parse Error"
	case KindTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Error is a radio operation failure.
type Error struct {
	Op     string    // "join", "status", "address", "start_ap"
	Kind   ErrorKind // Category of error
	Output string    // Trimmed tool output, if any
	Err    error     // Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("wifi %s: %s", e.Op, e.Kind)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// commandError classifies a failed tool invocation.
func commandError(op string, output []byte, err error) *Error {
	kind := KindCommand
	if errors.Is(err, exec.ErrWaitDelay) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Op: op, Kind: kind, Output: trimOutput(output), Err: err}
}

func parseError(op string, output []byte, reason string) *Error {
	return &Error{Op: op, Kind: KindParse, Output: trimOutput(output), Err: errors.New(reason)}
}

// IsCommandError reports whether err is a radio tool failure.
func IsCommandError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindCommand
}

// IsParseError reports whether err came from unreadable tool output.
func IsParseError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindParse
}

// IsTimeoutError reports whether the radio failed to answer in time.
func IsTimeoutError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTimeout
}
