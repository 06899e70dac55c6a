package flow

import (
	"context"
	"errors"
	"time"

	"github.com/vrushitpatel/repoauditor/flow/emit"
)

// Runner walks a graph definition for one invocation. The main path is
// strictly sequential: one node completes before the next starts, and no
// node is ever entered twice in the same pass.
//
// Runners are stateless between invocations and safe for concurrent use;
// every call to Run operates only on its own locals.
type Runner[D, R any] struct {
	emitter     emit.Emitter
	collectors  *Collectors
	runBudget   time.Duration
	nodeTimeout time.Duration
	retry       *RetryPolicy
}

// NewRunner builds a Runner from options.
func NewRunner[D, R any](opts ...Option[D, R]) *Runner[D, R] {
	r := &Runner[D, R]{
		emitter: emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the graph from its entry node against the initial state
// and returns the terminal state.
//
// Node failures do not surface as a returned error: the state comes back
// with Step == StepFailed and Err set, after the designated failure node
// ran exactly once. The returned error is reserved for problems that
// prevent or invalidate the run itself: a nil definition, a malformed
// initial context, a router returning an undeclared label, or re-entry
// into an already-executed node.
func (r *Runner[D, R]) Run(ctx context.Context, def *Definition[D, R], initial State[D, R]) (State[D, R], error) {
	if def == nil {
		return initial, ConfigError("nil graph definition")
	}
	if err := initial.Context.Validate(); err != nil {
		return initial, err
	}

	if r.runBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.runBudget)
		defer cancel()
	}

	st, err := initial.Update(StepPatch(StepRunning))
	if err != nil {
		return initial, err
	}

	runID := st.Context.CorrelationID
	r.emit(def, runID, 0, "", "run_start", nil)

	executed := make(map[string]bool, len(def.nodes))
	current := def.Entry()
	step := 0

	for {
		if executed[current] {
			return st, ConfigError("%s: node %q entered twice in one run", def.Name(), current)
		}
		executed[current] = true
		step++

		node, ok := def.node(current)
		if !ok {
			return st, ConfigError("%s: node %q: %v", def.Name(), current, ErrUnknownNode)
		}

		r.emit(def, runID, step, current, "node_start", nil)
		start := time.Now()
		out, runErr := r.executeNode(ctx, def, runID, step, current, node, st)
		elapsed := time.Since(start)

		if runErr != nil {
			fe := r.classifyRunError(ctx, current, runErr)
			r.emit(def, runID, step, current, "node_error", map[string]any{
				"duration_ms": elapsed.Milliseconds(),
				"error":       fe.Error(),
				"kind":        string(fe.Kind),
			})
			r.collectors.observeStep(def.Name(), current, statusFor(fe), float64(elapsed.Milliseconds()))

			st = st.MarkFailed(fe)
			st = r.runFailureNode(ctx, def, runID, step, current, st)
			return r.finish(def, runID, st), nil
		}

		st = out
		r.emit(def, runID, step, current, "node_end", map[string]any{
			"duration_ms": elapsed.Milliseconds(),
		})
		r.collectors.observeStep(def.Name(), current, "success", float64(elapsed.Milliseconds()))

		// A node may hand back an already-failed state without returning
		// an error, e.g. a fan-in that kept partial results alongside a
		// branch failure. The main path still short-circuits.
		if st.Failed() {
			st = r.runFailureNode(ctx, def, runID, step, current, st)
			return r.finish(def, runID, st), nil
		}

		next, terminal, routeErr := r.route(def, current, st)
		if routeErr != nil {
			return st, routeErr
		}
		if terminal {
			return r.finish(def, runID, st), nil
		}
		current = next
	}
}

// route consults the outgoing edge of id against the post-node state.
func (r *Runner[D, R]) route(def *Definition[D, R], id string, st State[D, R]) (next string, terminal bool, err error) {
	e, ok := def.edges[id]
	if !ok {
		return "", true, nil
	}
	if e.next != "" {
		return e.next, false, nil
	}
	label := e.router(st)
	to, ok := e.targets[label]
	if !ok {
		return "", false, ConfigError("%s: router at %q returned undeclared label %q", def.Name(), id, label)
	}
	return to, false, nil
}

// failureGrace bounds the failure node's work when the run context is
// already dead. Long enough to post one summary, short enough that a
// timed-out run does not linger.
const failureGrace = 10 * time.Second

// runFailureNode executes the designated failure node at most once. A
// failure inside the failure node itself is emitted but does not replace
// the original error.
func (r *Runner[D, R]) runFailureNode(ctx context.Context, def *Definition[D, R], runID string, step int, failedAt string, st State[D, R]) State[D, R] {
	fid := def.FailureNode()
	if fid == "" || fid == failedAt {
		return st
	}
	node, ok := def.node(fid)
	if !ok {
		return st
	}

	// The failure node must still produce its summary when the run
	// budget or deadline expired: it does collaborator I/O, which fails
	// immediately on a dead context. Detach under a grace window.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), failureGrace)
		defer cancel()
	}

	step++
	r.emit(def, runID, step, fid, "node_start", nil)
	start := time.Now()
	out, err := r.runOnce(ctx, fid, node, st, def.policy(fid).Timeout)
	elapsed := time.Since(start)
	if err != nil {
		r.emit(def, runID, step, fid, "node_error", map[string]any{
			"duration_ms": elapsed.Milliseconds(),
			"error":       err.Error(),
		})
		r.collectors.observeStep(def.Name(), fid, "error", float64(elapsed.Milliseconds()))
		return st
	}
	r.emit(def, runID, step, fid, "node_end", map[string]any{
		"duration_ms": elapsed.Milliseconds(),
	})
	r.collectors.observeStep(def.Name(), fid, "success", float64(elapsed.Milliseconds()))

	// The failure node may enrich the state (post a summary, attach a
	// report) but the run stays failed with the original error.
	out.Step = StepFailed
	out.Err = st.Err
	return out
}

// executeNode runs one node with its effective timeout and retry policy.
// Retries apply only to errors the policy marks retryable; attempts stop
// early once the run context is done.
func (r *Runner[D, R]) executeNode(ctx context.Context, def *Definition[D, R], runID string, step int, id string, node Node[D, R], st State[D, R]) (State[D, R], error) {
	pol := def.policy(id)
	timeout := pol.Timeout
	if timeout == 0 {
		timeout = r.nodeTimeout
	}
	retry := pol.Retry
	if retry == nil {
		retry = r.retry
	}
	attempts := 1
	if retry != nil && retry.MaxAttempts > 1 {
		attempts = retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := r.runOnce(ctx, id, node, st, timeout)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt+1 >= attempts || !retry.retryable(err) {
			break
		}

		r.collectors.incRetry(def.Name(), id)
		r.emit(def, runID, step, id, "node_retry", map[string]any{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})

		delay := computeBackoff(attempt, retry.BaseDelay, retry.MaxDelay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
	return st, lastErr
}

// runOnce executes a single attempt under the per-attempt timeout.
func (r *Runner[D, R]) runOnce(ctx context.Context, id string, node Node[D, R], st State[D, R], timeout time.Duration) (State[D, R], error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := node.Run(attemptCtx, st)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return st, &Error{Kind: KindTimeout, Node: id, Message: err.Error()}
		}
		return st, err
	}
	return out, nil
}

func (r *Runner[D, R]) classifyRunError(ctx context.Context, node string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if fe, ok := AsError(err); ok && fe.Kind == KindRollback {
			return fe
		}
		return &Error{Kind: KindTimeout, Node: node, Message: err.Error()}
	}
	return classify(node, err)
}

// finish stamps the terminal step, records run-level metrics and emits
// the closing event.
func (r *Runner[D, R]) finish(def *Definition[D, R], runID string, st State[D, R]) State[D, R] {
	if st.Step == StepRunning {
		st, _ = st.Update(StepPatch(StepCompleted))
	}

	outcome := string(st.Step)
	msg := "run_complete"
	meta := map[string]any{
		"step":        outcome,
		"cost_usd":    st.Meta.CostUSD,
		"tokens":      st.Meta.Tokens,
		"model_calls": st.Meta.ModelCalls,
		"duration_ms": st.Meta.Duration().Milliseconds(),
	}
	if st.Failed() {
		msg = "run_error"
		meta["error"] = st.Err.Error()
		meta["kind"] = string(st.Err.Kind)
	}

	r.emit(def, runID, 0, "", msg, meta)
	r.collectors.incRun(def.Name(), outcome)
	r.collectors.addCost(def.Name(), st.Meta.CostUSD)
	return st
}

func (r *Runner[D, R]) emit(def *Definition[D, R], runID string, step int, node, msg string, meta map[string]any) {
	r.emitter.Emit(emit.Event{
		RunID:    runID,
		Workflow: def.Name(),
		Step:     step,
		NodeID:   node,
		Msg:      msg,
		Meta:     meta,
	})
}

func statusFor(fe *Error) string {
	if fe.Kind == KindTimeout {
		return "timeout"
	}
	return "error"
}
