package core

import (
	"context"
	"errors"

	"github.com/vovakirdan/parcelchat-server/internal/store"
)

// Error codes reported to the calling connection.
const (
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeRateLimited  = "RATE_LIMITED"
)

// CoreError wraps a code and human-readable message.
// Err holds the underlying cause, if any; it is never shown to clients.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// CodeOf returns the taxonomy code carried by err. Unknown errors are internal.
func CodeOf(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

// persistenceError maps a store failure to the error taxonomy.
// ctx is the bounded context the store call ran under.
func persistenceError(ctx context.Context, op string, err error) *CoreError {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &CoreError{Code: ErrCodeTimeout, Message: op + " timed out", Err: err}
	case errors.Is(err, store.ErrNotFound):
		return &CoreError{Code: ErrCodeNotFound, Message: op + ": not found", Err: err}
	default:
		return &CoreError{Code: ErrCodeInternal, Message: op + " failed", Err: err}
	}
}
