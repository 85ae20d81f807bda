// Package exitcode defines structured exit codes for phx commands, so that
// init systems and scripts can tell "recovery failed" from "recovery is
// switched off" without parsing output.
//
// # Exit Code Ranges
//
//   - 0: Success (operational, or failsafe entered and retrying)
//   - 1-9: General errors (usage, internal)
//   - 10-19: Resource not found
//   - 20-29: Permission errors
//   - 40-49: Timeout errors
//   - 50-59: Conflict/state errors
//   - 60-69: Recovery outcomes
//
// # Usage
//
//	return exitcode.RecoveryFailed(res.Err())   // Exit code 60
//	code := exitcode.Code(err)                  // ErrGeneral for non-coded errors
package exitcode

import (
	"context"
	"errors"
	"fmt"
)

const (
	// Success indicates the command completed successfully.
	Success = 0

	// General errors (1-9)
	ErrGeneral  = 1 // General/unknown error
	ErrUsage    = 2 // Invalid arguments or usage
	ErrInternal = 3 // Internal error (bug)

	// Resource not found (10-19)
	ErrFileNotFound = 13 // File or path not found

	// Permission errors (20-29)
	ErrPermission = 20 // Permission denied

	// Timeout errors (40-49)
	ErrTimeout = 40 // Operation timed out

	// Conflict/state errors (50-59)
	ErrBusy = 52 // Another instance holds the lock

	// Recovery outcomes (60-69)
	ErrRecoveryFailed   = 60 // Neither activation nor fallback succeeded
	ErrRecoveryDisabled = 61 // Configuration gate closed
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf wraps an existing error with a code and printf-style message.
func Wrapf(code int, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Code extracts the exit code from an error. Uncoded deadline errors map
// to ErrTimeout; anything else uncoded is ErrGeneral.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrGeneral
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// FileNotFound returns an error for a missing file.
func FileNotFound(path string) *Error {
	return Newf(ErrFileNotFound, "file not found: %s", path)
}

// Timeout returns a timeout error.
func Timeout(operation string) *Error {
	return Newf(ErrTimeout, "operation timed out: %s", operation)
}

// Busy returns an error for a lock held by another instance.
func Busy(cause error) *Error {
	return Wrap(ErrBusy, "instance lock busy", cause)
}

// RecoveryFailed returns an error for a failed orchestration.
func RecoveryFailed(cause error) *Error {
	return Wrap(ErrRecoveryFailed, "recovery failed; manual intervention required", cause)
}

// RecoveryDisabled returns an error for a closed configuration gate.
func RecoveryDisabled(source string) *Error {
	return Newf(ErrRecoveryDisabled, "recovery disabled (set RECOVERY_MODE=auto in %s)", source)
}
