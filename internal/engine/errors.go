package engine

import (
	"errors"
)

// PersistenceFailure is shown when a turn cannot be stored.
const PersistenceFailure = "Unable to continue. Please refresh page"

// ErrInvalidConversationID rejects empty or oversized conversation tokens.
var ErrInvalidConversationID = errors.New("engine: invalid conversation id")

// Error is a failed turn. Message is safe to show to the customer; Err is
// the underlying cause for logs.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func failure(err error) *Error {
	return &Error{Message: PersistenceFailure, Err: err}
}

// UserMessage returns the text a chat client should see for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return PersistenceFailure
}
