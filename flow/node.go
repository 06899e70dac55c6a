package flow

import "context"

// Node is a named, single-purpose processing step. Run receives the
// current state and returns the successor state; it must treat the input
// as read-only and build its return value from it.
//
// Nodes perform the workflow's slow, fallible work (code-host calls,
// model calls). Timeout enforcement and retry live in the runner, not in
// the node; a node only needs to honor ctx cancellation across its I/O.
type Node[D, R any] interface {
	Run(ctx context.Context, st State[D, R]) (State[D, R], error)
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc[D, R any] func(ctx context.Context, st State[D, R]) (State[D, R], error)

// Run implements Node.
func (f NodeFunc[D, R]) Run(ctx context.Context, st State[D, R]) (State[D, R], error) {
	return f(ctx, st)
}
