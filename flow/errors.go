// Package flow provides the graph execution core for pull request review
// and remediation workflows.
package flow

import (
	"errors"
	"fmt"
)

// ErrNoEntryPoint indicates a graph was built without StartAt being called.
var ErrNoEntryPoint = errors.New("graph has no entry point")

// ErrUnknownNode indicates an edge or entry point references a node that
// was never added to the graph.
var ErrUnknownNode = errors.New("edge references unknown node")

// ErrDuplicateNode indicates the same node ID was added twice.
var ErrDuplicateNode = errors.New("duplicate node id")

// ErrCyclicGraph indicates the main path contains a cycle. The runner
// never re-enters a node, so cycles can never complete.
var ErrCyclicGraph = errors.New("graph contains a cycle")

// ErrInvalidRetryPolicy indicates a retry policy with MaxAttempts < 1 or
// MaxDelay below BaseDelay.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// Kind classifies a workflow error for routing and reporting decisions.
//
// The taxonomy separates build-time problems (KindConfiguration) from
// pre-run problems (KindValidation) and runtime problems. Rollback
// failures get their own kind because they mean an external artifact may
// be left in a mutated state and must reach a human operator.
type Kind string

const (
	// KindConfiguration marks a malformed graph: unknown router label,
	// missing entry point, dangling edge. Raised at construction time,
	// never during a run.
	KindConfiguration Kind = "configuration"

	// KindValidation marks a malformed initial task context, rejected
	// before any node runs.
	KindValidation Kind = "validation"

	// KindCollaborator marks a failure from an external collaborator
	// (code host, intelligence provider) after retries were exhausted.
	KindCollaborator Kind = "collaborator"

	// KindNode marks a generic node failure.
	KindNode Kind = "node"

	// KindTimeout marks a node or run deadline expiry.
	KindTimeout Kind = "timeout"

	// KindRollback marks a failure to undo an external mutation. Never
	// retried automatically; always surfaced.
	KindRollback Kind = "rollback"
)

// Error is the structured error carried inside State. All fields are
// exported so the value survives the JSON round-trip used for branch
// copies.
type Error struct {
	Kind    Kind   `json:"kind"`
	Node    string `json:"node,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s error in node %q: %s", e.Kind, e.Node, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// ConfigError builds a KindConfiguration error.
func ConfigError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// ValidationError builds a KindValidation error.
func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NodeError wraps an executor failure in node against the given kind.
func NodeError(kind Kind, node string, err error) *Error {
	return &Error{Kind: kind, Node: node, Message: err.Error()}
}

// AsError unwraps err into a *Error if one is in its chain.
func AsError(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// collaboratorFailure is implemented by collaborator error types so
// classification can label them without this package importing them.
type collaboratorFailure interface {
	CollaboratorError() bool
}

// classify converts an arbitrary executor error into a structured Error.
// Errors that are already structured keep their kind but gain the node ID
// if they had none.
func classify(node string, err error) *Error {
	if fe, ok := AsError(err); ok {
		if fe.Node == "" {
			return &Error{Kind: fe.Kind, Node: node, Message: fe.Message}
		}
		return fe
	}
	var cf collaboratorFailure
	if errors.As(err, &cf) && cf.CollaboratorError() {
		return NodeError(KindCollaborator, node, err)
	}
	return NodeError(KindNode, node, err)
}
