package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownConversation is returned for a key that was never opened.
	ErrUnknownConversation = errors.New("unknown conversation")

	// ErrStopped is returned when the engine no longer accepts events.
	ErrStopped = errors.New("engine stopped")
)

// EventError wraps a processing failure with the event that caused it.
//
// The Run loop logs these and continues; callers only see them through
// logs and through load tokens failed with the wrapped cause.
type EventError struct {
	// Type is the failing event's type.
	Type EventType

	// Key identifies the conversation.
	Key Key

	// Identity is the record involved, when there is exactly one.
	Identity string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *EventError) Error() string {
	if e.Identity != "" {
		return fmt.Sprintf("%s %s (record=%s): %v", e.Type, e.Key, e.Identity, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Type, e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *EventError) Unwrap() error {
	return e.Err
}

// IsArchiveError reports whether err came from the archive write-through.
func IsArchiveError(err error) bool {
	var ae *archiveError
	return errors.As(err, &ae)
}

type archiveError struct {
	op  string
	err error
}

func (e *archiveError) Error() string {
	return fmt.Sprintf("archive %s: %v", e.op, e.err)
}

func (e *archiveError) Unwrap() error {
	return e.err
}

func wrapArchive(op string, err error) error {
	if err == nil {
		return nil
	}
	return &archiveError{op: op, err: err}
}
