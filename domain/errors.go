package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both absent tasks and tasks owned by someone else.
	ErrNotFound = errors.New("task not found")
	// ErrUnauthorized indicates a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned by login for an unknown email or a bad password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrConflict indicates a uniqueness violation or a request already in progress.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports bad or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientNetworkError wraps a failure to reach the API or a server side
// fault. It is recoverable and never retried automatically.
type TransientNetworkError struct {
	Err error
}

func (e *TransientNetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }
