package model

import (
	"errors"
	"fmt"
)

var (
	// ErrExamNotFound means no exam record matches the requested id.
	ErrExamNotFound = errors.New("exam not found")
	// ErrMalformedDefinition means the exam record cannot be turned into a usable definition.
	ErrMalformedDefinition = errors.New("malformed exam definition")
	// ErrAuthRequired means the caller has no identity and must log in first.
	ErrAuthRequired = errors.New("authentication required")
	// ErrAttemptNotFound means no attempt matches the requested id.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptFinalized means a write targeted an attempt that is already terminal.
	ErrAttemptFinalized = errors.New("attempt already finalized")
	// ErrAttemptInProgress means a grading write targeted an attempt that was never submitted.
	ErrAttemptInProgress = errors.New("attempt not submitted")
	// ErrUserNotFound means no user matches the requested id.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken means another user already has the username.
	ErrUsernameTaken = errors.New("username taken")
)

// PersistenceError wraps a failed attempt store call. The session stays usable.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Malformed returns an error wrapping ErrMalformedDefinition with detail.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedDefinition, fmt.Sprintf(format, args...))
}
