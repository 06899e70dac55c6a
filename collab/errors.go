// Package collab defines the external collaborator contracts the
// workflow core consumes: the code host, admission control and review
// history. The core never implements these protocols itself; it treats
// every collaborator as an opaque request/response dependency that can
// fail, be slow, or be rate-limited.
package collab

import (
	"errors"
	"fmt"
)

// Error classifies a collaborator failure as transient or permanent.
// Transient failures (rate limits, 5xx, network resets) are worth
// retrying with backoff; permanent ones (auth, not found, bad request)
// are not.
type Error struct {
	Op        string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	return fmt.Sprintf("%s: %s collaborator error: %v", e.Op, class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CollaboratorError marks the type for error-kind classification in the
// execution engine.
func (e *Error) CollaboratorError() bool { return true }

// TransientError wraps err as a retryable collaborator failure.
func TransientError(op string, err error) *Error {
	return &Error{Op: op, Transient: true, Err: err}
}

// PermanentError wraps err as a non-retryable collaborator failure.
func PermanentError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// IsTransient reports whether err is a collaborator failure worth
// retrying. It is the Retryable predicate the workflows hand to their
// node retry policies.
func IsTransient(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Transient
}
