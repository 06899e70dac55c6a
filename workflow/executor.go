package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vrushitpatel/repoauditor/collab"
	"github.com/vrushitpatel/repoauditor/flow"
)

// Trigger is one external request to run a workflow: who asked, on
// which change request.
type Trigger struct {
	Repository string
	RequestID  int
	Actor      string
}

// DeniedError is returned when admission control refuses a trigger. No
// state was constructed and no node ran.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "admission denied: " + e.Reason
}

// Summary is the non-generic view of a finished run, suitable for a
// dispatcher that handles multiple workflow types.
type Summary struct {
	Workflow      string
	CorrelationID string
	Step          flow.StepKind
	Err           *flow.Error
	Results       int
	CostUSD       float64
	Tokens        int64
	ModelCalls    int
	Duration      time.Duration
}

// Executor runs one workflow type per trigger: admission check first,
// then state construction, then the graph run. A denial means no State
// is ever constructed.
type Executor[D, R any] struct {
	admission collab.Admission
	runner    *flow.Runner[D, R]
	def       *flow.Definition[D, R]
}

// NewExecutor wires an executor. admission may be nil for unrestricted
// use, e.g. local tooling.
func NewExecutor[D, R any](admission collab.Admission, runner *flow.Runner[D, R], def *flow.Definition[D, R]) *Executor[D, R] {
	return &Executor[D, R]{admission: admission, runner: runner, def: def}
}

// Name reports the executed workflow's name.
func (e *Executor[D, R]) Name() string { return e.def.Name() }

// ExecuteState runs the workflow for one trigger and returns the full
// terminal state. A *DeniedError means admission refused the trigger
// before any state existed.
func (e *Executor[D, R]) ExecuteState(ctx context.Context, trig Trigger) (flow.State[D, R], error) {
	var zero flow.State[D, R]

	if e.admission != nil {
		decision, err := e.admission.CheckAndRecord(ctx, collab.Subject{
			Actor:      trig.Actor,
			Repository: trig.Repository,
			RequestID:  trig.RequestID,
		})
		if err != nil {
			return zero, fmt.Errorf("admission check: %w", err)
		}
		if !decision.Allowed {
			return zero, &DeniedError{Reason: decision.Reason}
		}
	}

	tc := flow.NewTaskContext(trig.Repository, trig.RequestID, trig.Actor)
	return e.runner.Run(ctx, e.def, flow.NewState[D, R](tc))
}

// Execute runs the workflow and reduces the terminal state to a
// Summary. It implements Runnable.
func (e *Executor[D, R]) Execute(ctx context.Context, trig Trigger) (Summary, error) {
	st, err := e.ExecuteState(ctx, trig)
	if err != nil {
		return Summary{Workflow: e.Name()}, err
	}
	return Summary{
		Workflow:      e.Name(),
		CorrelationID: st.Context.CorrelationID,
		Step:          st.Step,
		Err:           st.Err,
		Results:       len(st.Results),
		CostUSD:       st.Meta.CostUSD,
		Tokens:        st.Meta.Tokens,
		ModelCalls:    st.Meta.ModelCalls,
		Duration:      st.Meta.Duration(),
	}, nil
}

// ExecuteAll runs one trigger per goroutine under a concurrency bound
// and returns summaries indexed like the input. Every spawned run is
// awaited before ExecuteAll returns.
func (e *Executor[D, R]) ExecuteAll(ctx context.Context, triggers []Trigger, maxConcurrent int) []ExecResult {
	if maxConcurrent <= 0 {
		maxConcurrent = flow.DefaultMaxConcurrent
	}

	results := make([]ExecResult, len(triggers))
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i, trig := range triggers {
		wg.Add(1)
		go func(i int, trig Trigger) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i].Summary, results[i].Err = e.Execute(ctx, trig)
		}(i, trig)
	}

	wg.Wait()
	return results
}

// ExecResult pairs one trigger's summary with its execution error.
type ExecResult struct {
	Summary Summary
	Err     error
}
