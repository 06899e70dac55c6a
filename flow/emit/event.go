// Package emit provides pluggable observability sinks for workflow
// execution events.
package emit

// Event is one observability record emitted during a workflow run.
type Event struct {
	// RunID is the correlation ID of the execution that emitted this event.
	RunID string

	// Workflow names the graph definition being executed.
	Workflow string

	// Step is the sequential node position in the run, 1-indexed.
	// Zero for run-level events (run_start, run_complete, run_error).
	Step int

	// NodeID identifies the node, empty for run-level events.
	NodeID string

	// Msg is the event type: node_start, node_end, node_error,
	// node_retry, run_start, run_complete, run_error.
	Msg string

	// Meta carries event-specific fields. Common keys: duration_ms,
	// error, attempt, cost_usd, tokens, next.
	Meta map[string]any
}
