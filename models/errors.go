package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error codes used throughout the commander core.
const (
	ErrCodeActionStopped       = "ACTION_STOPPED"
	ErrCodeNavigationTransient = "NAVIGATION_TRANSIENT"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeDriverUnknown       = "DRIVER_UNKNOWN"
	ErrCodeBadSelector         = "BAD_SELECTOR"
	ErrCodeInvariant           = "INVARIANT_VIOLATED"
)

// CommandError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type CommandError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError creates a new CommandError.
func NewCommandError(code, message string, err error) *CommandError {
	return &CommandError{Code: code, Message: message, Err: err}
}

// ErrActionStopped is the carrier of cancellation from an abort token.
// Abortable waits and the guarded commander return exactly this value so
// callers can detect a clean stop with errors.Is.
var ErrActionStopped error = &CommandError{
	Code:    ErrCodeActionStopped,
	Message: "action stopped by navigation",
}

// IsActionStopped reports whether err is the cancellation carrier.
func IsActionStopped(err error) bool {
	if errors.Is(err, ErrActionStopped) {
		return true
	}
	var ce *CommandError
	return errors.As(err, &ce) && ce.Code == ErrCodeActionStopped
}

// transientMarkers are the driver messages that indicate an operation was
// interrupted by a page load. The match is a case-sensitive substring test,
// because both drivers surface these as plain error strings.
var transientMarkers = []string{
	"Execution context was destroyed",
	"detached Frame",
	"Target closed",
	"Session closed",
	"Protocol error",
	"Target page, context or browser has been closed",
	"frame was detached",
	"Navigating frame was detached",
	"Cannot find context with specified id",
	"Attempted to use detached Frame",
	"Frame was detached",
	"context was destroyed",
	"Page crashed",
}

// IsNavigationTransient reports whether err is a driver failure caused by an
// in-flight navigation. Timeouts are never transient.
func IsNavigationTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsTimeout(err) {
		return false
	}
	var ce *CommandError
	if errors.As(err, &ce) && ce.Code == ErrCodeNavigationTransient {
		return true
	}
	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// timeoutMarkers are matched case-insensitively against the error message.
var timeoutMarkers = []string{
	"waiting for selector",
	"timeout exceeded",
	"timed out",
	"timeout",
}

// IsTimeout reports whether err represents an elapsed deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ce *CommandError
	if errors.As(err, &ce) && ce.Code == ErrCodeTimeout {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range timeoutMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
