package flow

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxConcurrent bounds parallel branch execution when a fan-out
// does not set its own limit. Kept small to respect collaborator rate
// limits.
const DefaultMaxConcurrent = 3

// BranchSpec names one branch of a fan-out. Registration order in the
// slice determines merge order at fan-in, regardless of which branch's
// I/O finishes first.
type BranchSpec[D, R any] struct {
	Name string
	Node Node[D, R]
}

// BranchResult carries one branch's outcome back to the fan-in.
type BranchResult[D, R any] struct {
	Name  string
	State State[D, R]
	Err   error
}

// FanOutOptions configures a parallel dispatch.
type FanOutOptions struct {
	// MaxConcurrent bounds simultaneously running branches.
	// Zero or negative means DefaultMaxConcurrent.
	MaxConcurrent int

	// Retry, when set, retries retryable branch failures with bounded
	// exponential backoff. Branches run outside the runner's node loop,
	// so they carry their own policy.
	Retry *RetryPolicy

	// Collectors, when set, tracks in-flight branch counts.
	Collectors *Collectors
}

// FanOut runs every branch concurrently against an independent deep copy
// of st, bounded by the concurrency limit. Branches share no mutable
// substructure with each other or with the parent, so none can observe
// another's intermediate writes.
//
// Results come back indexed by registration order. Every spawned branch
// is awaited before FanOut returns; cancellation of ctx propagates into
// the branches cooperatively.
func FanOut[D, R any](ctx context.Context, st State[D, R], branches []BranchSpec[D, R], opts FanOutOptions) []BranchResult[D, R] {
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}

	results := make([]BranchResult[D, R], len(branches))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, branch := range branches {
		results[i].Name = branch.Name

		copied, err := st.Clone()
		if err != nil {
			results[i].Err = err
			continue
		}

		wg.Add(1)
		go func(i int, node Node[D, R], input State[D, R]) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			opts.Collectors.branchStarted()
			defer opts.Collectors.branchDone()

			out, err := runBranch(ctx, node, input, opts.Retry)
			if err != nil {
				results[i].Err = err
				return
			}
			results[i].State = out
		}(i, branch.Node, copied)
	}

	wg.Wait()
	return results
}

// runBranch executes one branch under its retry policy. Attempts stop
// early once ctx is done.
func runBranch[D, R any](ctx context.Context, node Node[D, R], st State[D, R], retry *RetryPolicy) (State[D, R], error) {
	attempts := 1
	if retry != nil && retry.MaxAttempts > 1 {
		attempts = retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := node.Run(ctx, st)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt+1 >= attempts || !retry.retryable(err) {
			break
		}
		select {
		case <-time.After(computeBackoff(attempt, retry.BaseDelay, retry.MaxDelay)):
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
	return st, lastErr
}

// FanIn merges branch results back into the parent state,
// deterministically:
//
//   - records appended by each branch are concatenated in registration
//     order, never completion order;
//   - metadata counters from every finished branch are summed, severity
//     counts per category;
//   - if any branch failed, the first-registered failure becomes the
//     state error.
//
// With allOrNothing false (partial success), records from successful
// branches survive a sibling's failure. With allOrNothing true, a single
// failure discards every branch's records and only the error propagates.
// Usage counters accumulate in both modes; spend that happened is never
// un-counted.
func FanIn[D, R any](parent State[D, R], results []BranchResult[D, R], allOrNothing bool) State[D, R] {
	out := parent
	var firstErr *Error
	var merged []R

	for _, res := range results {
		if res.Err != nil {
			if firstErr == nil {
				firstErr = classify(res.Name, res.Err)
			}
			continue
		}
		if res.State.Failed() && firstErr == nil {
			firstErr = res.State.Err
		}

		// Branch states start as copies of the parent, so everything
		// past the parent's result count is what the branch added.
		if added := res.State.Results[min(len(parent.Results), len(res.State.Results)):]; len(added) > 0 && !res.State.Failed() {
			merged = append(merged, added...)
		}
		out.Meta = Accumulate(out.Meta, metaDiff(parent.Meta, res.State.Meta))
	}

	if firstErr != nil && allOrNothing {
		merged = nil
	}
	if len(merged) > 0 {
		out = out.Append(merged...)
	}
	if firstErr != nil {
		out = out.MarkFailed(firstErr)
	}
	return out
}

// metaDiff computes the counters a branch added on top of the parent.
// Monotonicity guarantees every component is non-negative.
func metaDiff(parent, branch Metadata) Delta {
	d := Delta{
		CostUSD:          branch.CostUSD - parent.CostUSD,
		Tokens:           branch.Tokens - parent.Tokens,
		ModelCalls:       branch.ModelCalls - parent.ModelCalls,
		RequiresApproval: branch.RequiresApproval,
	}
	if len(branch.SeverityCounts) > 0 {
		counts := make(map[string]int)
		for sev, n := range branch.SeverityCounts {
			if added := n - parent.SeverityCounts[sev]; added > 0 {
				counts[sev] = added
			}
		}
		if len(counts) > 0 {
			d.SeverityCounts = counts
		}
	}
	return d
}
