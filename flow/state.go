package flow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepKind is the lifecycle phase of a workflow execution. The set is
// closed; states only ever move forward through it.
type StepKind string

const (
	StepCreated       StepKind = "created"
	StepRunning       StepKind = "running"
	StepAwaitingMerge StepKind = "awaiting-branch-merge"
	StepCompleted     StepKind = "completed"
	StepFailed        StepKind = "failed"
)

// TaskContext is the immutable identity of one workflow execution. It is
// set once at state creation and never mutated afterwards.
type TaskContext struct {
	// Repository is the code-host repository identifier, e.g. "owner/name".
	Repository string `json:"repository"`

	// RequestID is the change-request (pull request) number.
	RequestID int `json:"request_id"`

	// Actor is the user or system that triggered the execution.
	Actor string `json:"actor"`

	// CorrelationID is a unique identifier attached to every emitted
	// event and to the human-readable failure summary for triage.
	CorrelationID string `json:"correlation_id"`
}

// NewTaskContext builds a TaskContext with a fresh correlation ID.
func NewTaskContext(repository string, requestID int, actor string) TaskContext {
	return TaskContext{
		Repository:    repository,
		RequestID:     requestID,
		Actor:         actor,
		CorrelationID: uuid.NewString(),
	}
}

// Validate rejects malformed task identities before any node runs.
func (tc TaskContext) Validate() error {
	if tc.Repository == "" {
		return ValidationError("task context missing repository")
	}
	if tc.RequestID <= 0 {
		return ValidationError("task context has invalid request id %d", tc.RequestID)
	}
	if tc.CorrelationID == "" {
		return ValidationError("task context missing correlation id")
	}
	return nil
}

// Metadata holds monotonically non-decreasing usage counters for one
// execution trace. Counters only grow; Update rejects patches that would
// shrink them.
type Metadata struct {
	CostUSD          float64        `json:"cost_usd"`
	Tokens           int64          `json:"tokens"`
	ModelCalls       int            `json:"model_calls"`
	SeverityCounts   map[string]int `json:"severity_counts,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Duration reports wall-clock time from state creation to the most
// recent update.
func (m Metadata) Duration() time.Duration {
	return m.UpdatedAt.Sub(m.CreatedAt)
}

// Delta is one node's contribution to the usage counters. All fields
// must be non-negative; severity counts are summed per category.
type Delta struct {
	CostUSD          float64
	Tokens           int64
	ModelCalls       int
	SeverityCounts   map[string]int
	RequiresApproval bool
}

// Accumulate folds a delta into metadata and returns the new value. It is
// a pure function of its inputs apart from stamping UpdatedAt; the input
// metadata is never modified.
func Accumulate(m Metadata, d Delta) Metadata {
	out := m
	out.CostUSD += d.CostUSD
	out.Tokens += d.Tokens
	out.ModelCalls += d.ModelCalls
	out.RequiresApproval = m.RequiresApproval || d.RequiresApproval
	out.UpdatedAt = time.Now().UTC()

	if len(d.SeverityCounts) > 0 || len(m.SeverityCounts) > 0 {
		counts := make(map[string]int, len(m.SeverityCounts)+len(d.SeverityCounts))
		for k, v := range m.SeverityCounts {
			counts[k] = v
		}
		for k, v := range d.SeverityCounts {
			counts[k] += v
		}
		out.SeverityCounts = counts
	}
	return out
}

func (d Delta) validate() error {
	if d.CostUSD < 0 || d.Tokens < 0 || d.ModelCalls < 0 {
		return ValidationError("metadata counters may not decrease")
	}
	for sev, n := range d.SeverityCounts {
		if n < 0 {
			return ValidationError("severity count for %q may not decrease", sev)
		}
	}
	return nil
}

// Patch describes a State update. Nil fields are left untouched.
type Patch struct {
	// Step, when non-nil, replaces the current lifecycle phase.
	Step *StepKind

	// Meta, when non-nil, is added onto the usage counters.
	Meta *Delta
}

// StepPatch is a convenience for patches that only move the lifecycle.
func StepPatch(step StepKind) Patch {
	return Patch{Step: &step}
}

// State is the single value threaded through a graph run.
//
// D is the workflow document: scratch data a workflow's nodes pass to
// each other (fetched diff, branch name, test outcome). R is the result
// record type appended by nodes. Both must survive a JSON round-trip so
// parallel branches can take independent deep copies.
//
// States are immutable by convention: every operation returns a new
// value and leaves its receiver untouched.
type State[D, R any] struct {
	Context   TaskContext `json:"context"`
	Doc       D           `json:"doc"`
	Results   []R         `json:"results"`
	Step      StepKind    `json:"step"`
	Err       *Error      `json:"error,omitempty"`
	Meta      Metadata    `json:"metadata"`
	Snapshots []Snapshot  `json:"snapshots,omitempty"`
}

// NewState initializes a State for one execution: StepCreated, empty
// results, zeroed counters, no error.
func NewState[D, R any](tc TaskContext) State[D, R] {
	now := time.Now().UTC()
	return State[D, R]{
		Context: tc,
		Step:    StepCreated,
		Meta: Metadata{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Update merges patch over the state and returns the result. The input
// state is never modified. A patch that would decrease any metadata
// counter is rejected.
func (s State[D, R]) Update(p Patch) (State[D, R], error) {
	out := s
	if p.Meta != nil {
		if err := p.Meta.validate(); err != nil {
			return s, err
		}
		out.Meta = Accumulate(s.Meta, *p.Meta)
	} else {
		out.Meta.UpdatedAt = time.Now().UTC()
	}
	if p.Step != nil {
		out.Step = *p.Step
	}
	return out, nil
}

// Append returns a new state with record added to the results. The
// backing array is copied so the input's results are never shared.
func (s State[D, R]) Append(records ...R) State[D, R] {
	out := s
	out.Results = make([]R, 0, len(s.Results)+len(records))
	out.Results = append(out.Results, s.Results...)
	out.Results = append(out.Results, records...)
	return out
}

// WithDoc returns a new state carrying the given workflow document.
func (s State[D, R]) WithDoc(doc D) State[D, R] {
	out := s
	out.Doc = doc
	return out
}

// MarkFailed sets the structured error and forces StepFailed. Once a
// state is failed the first error sticks; marking again is a no-op.
func (s State[D, R]) MarkFailed(err *Error) State[D, R] {
	if s.Failed() {
		return s
	}
	out := s
	out.Err = err
	out.Step = StepFailed
	out.Meta.UpdatedAt = time.Now().UTC()
	return out
}

// Failed reports whether the structured error has been set.
func (s State[D, R]) Failed() bool {
	return s.Err != nil
}

// Clone produces a deep copy via a JSON round-trip, so the copy shares
// no mutable substructure with the original. Parallel branches each run
// against their own clone.
func (s State[D, R]) Clone() (State[D, R], error) {
	return deepCopy(s)
}

// deepCopy round-trips any JSON-serializable value. Unexported fields,
// channels and functions do not survive; state types must not carry them.
func deepCopy[S any](v S) (S, error) {
	var out S
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("marshal state: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("unmarshal state: %w", err)
	}
	return out, nil
}
