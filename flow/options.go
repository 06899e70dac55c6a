package flow

import (
	"time"

	"github.com/vrushitpatel/repoauditor/flow/emit"
)

// Option configures a Runner.
type Option[D, R any] func(*Runner[D, R])

// WithEmitter sets the observability sink for execution events.
// Defaults to a NullEmitter.
func WithEmitter[D, R any](e emit.Emitter) Option[D, R] {
	return func(r *Runner[D, R]) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithCollectors attaches Prometheus collectors. Nil disables metrics.
func WithCollectors[D, R any](c *Collectors) Option[D, R] {
	return func(r *Runner[D, R]) {
		r.collectors = c
	}
}

// WithRunBudget caps the wall-clock time of one whole invocation. On
// expiry in-flight work is cancelled, the state is marked failed with a
// timeout error, and the failure node runs. Zero means no cap.
func WithRunBudget[D, R any](budget time.Duration) Option[D, R] {
	return func(r *Runner[D, R]) {
		r.runBudget = budget
	}
}

// WithNodeTimeout sets the default per-attempt timeout for nodes that do
// not declare their own. Zero means no default timeout.
func WithNodeTimeout[D, R any](timeout time.Duration) Option[D, R] {
	return func(r *Runner[D, R]) {
		r.nodeTimeout = timeout
	}
}

// WithRetry sets the default retry policy for nodes that do not declare
// their own. Nil means no retries by default.
func WithRetry[D, R any](policy *RetryPolicy) Option[D, R] {
	return func(r *Runner[D, R]) {
		r.retry = policy
	}
}
