package flow

import (
	"errors"
	"testing"
)

var errTest = errors.New("boom")

type testDoc struct {
	Diff string `json:"diff"`
	Note string `json:"note"`
}

type testState = State[testDoc, string]

func newTestState() testState {
	return NewState[testDoc, string](NewTaskContext("octo/demo", 42, "reviewer"))
}

func TestNewState(t *testing.T) {
	st := newTestState()

	if st.Step != StepCreated {
		t.Errorf("expected step %q, got %q", StepCreated, st.Step)
	}
	if len(st.Results) != 0 {
		t.Errorf("expected empty results, got %d", len(st.Results))
	}
	if st.Err != nil {
		t.Errorf("expected nil error, got %v", st.Err)
	}
	if st.Meta.CostUSD != 0 || st.Meta.Tokens != 0 || st.Meta.ModelCalls != 0 {
		t.Errorf("expected zeroed counters, got %+v", st.Meta)
	}
	if st.Context.CorrelationID == "" {
		t.Error("expected correlation id to be set")
	}
}

func TestTaskContextValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tc := NewTaskContext("octo/demo", 1, "reviewer")
		if err := tc.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing repository", func(t *testing.T) {
		tc := NewTaskContext("", 1, "reviewer")
		err := tc.Validate()
		if err == nil {
			t.Fatal("expected error")
		}
		fe, ok := AsError(err)
		if !ok || fe.Kind != KindValidation {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("invalid request id", func(t *testing.T) {
		tc := NewTaskContext("octo/demo", 0, "reviewer")
		if err := tc.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestUpdate(t *testing.T) {
	t.Run("does not mutate input", func(t *testing.T) {
		st := newTestState()
		before := st.Step

		out, err := st.Update(StepPatch(StepRunning))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if st.Step != before {
			t.Errorf("input state mutated: step %q", st.Step)
		}
		if out.Step != StepRunning {
			t.Errorf("expected step %q, got %q", StepRunning, out.Step)
		}
	})

	t.Run("same inputs yield structurally equal outputs", func(t *testing.T) {
		st := newTestState()
		patch := Patch{
			Step: func() *StepKind { s := StepRunning; return &s }(),
			Meta: &Delta{CostUSD: 0.25, Tokens: 100, ModelCalls: 1, SeverityCounts: map[string]int{"high": 2}},
		}

		out1, err := st.Update(patch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out2, err := st.Update(patch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if out1.Step != out2.Step {
			t.Errorf("steps differ: %q vs %q", out1.Step, out2.Step)
		}
		if out1.Meta.CostUSD != out2.Meta.CostUSD || out1.Meta.Tokens != out2.Meta.Tokens {
			t.Errorf("counters differ: %+v vs %+v", out1.Meta, out2.Meta)
		}
		if out1.Meta.SeverityCounts["high"] != out2.Meta.SeverityCounts["high"] {
			t.Error("severity counts differ")
		}
	})

	t.Run("rejects decreasing counters", func(t *testing.T) {
		st := newTestState()
		_, err := st.Update(Patch{Meta: &Delta{Tokens: -5}})
		if err == nil {
			t.Fatal("expected error for negative token delta")
		}
		fe, ok := AsError(err)
		if !ok || fe.Kind != KindValidation {
			t.Errorf("expected validation error, got %v", err)
		}

		_, err = st.Update(Patch{Meta: &Delta{SeverityCounts: map[string]int{"high": -1}}})
		if err == nil {
			t.Fatal("expected error for negative severity delta")
		}
	})

	t.Run("accumulates counters", func(t *testing.T) {
		st := newTestState()
		out, _ := st.Update(Patch{Meta: &Delta{CostUSD: 0.10, Tokens: 50, ModelCalls: 1}})
		out, _ = out.Update(Patch{Meta: &Delta{CostUSD: 0.05, Tokens: 25, ModelCalls: 2}})

		if out.Meta.CostUSD != 0.15 {
			t.Errorf("expected cost 0.15, got %f", out.Meta.CostUSD)
		}
		if out.Meta.Tokens != 75 {
			t.Errorf("expected 75 tokens, got %d", out.Meta.Tokens)
		}
		if out.Meta.ModelCalls != 3 {
			t.Errorf("expected 3 model calls, got %d", out.Meta.ModelCalls)
		}
	})
}

func TestAppend(t *testing.T) {
	st := newTestState()
	out := st.Append("first")
	out = out.Append("second", "third")

	if len(st.Results) != 0 {
		t.Errorf("input state mutated: %d results", len(st.Results))
	}
	want := []string{"first", "second", "third"}
	if len(out.Results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(out.Results))
	}
	for i, r := range want {
		if out.Results[i] != r {
			t.Errorf("result %d: expected %q, got %q", i, r, out.Results[i])
		}
	}
}

func TestMarkFailed(t *testing.T) {
	t.Run("sets error and forces failed step", func(t *testing.T) {
		st := newTestState()
		out := st.MarkFailed(NodeError(KindCollaborator, "scan", errTest))

		if out.Step != StepFailed {
			t.Errorf("expected step %q, got %q", StepFailed, out.Step)
		}
		if out.Err == nil || out.Err.Kind != KindCollaborator {
			t.Errorf("expected collaborator error, got %v", out.Err)
		}
		if st.Err != nil {
			t.Error("input state mutated")
		}
	})

	t.Run("first error sticks", func(t *testing.T) {
		st := newTestState()
		out := st.MarkFailed(&Error{Kind: KindNode, Node: "a", Message: "first"})
		out = out.MarkFailed(&Error{Kind: KindNode, Node: "b", Message: "second"})

		if out.Err.Message != "first" {
			t.Errorf("expected first error to stick, got %q", out.Err.Message)
		}
	})
}

func TestAccumulate(t *testing.T) {
	t.Run("monotonic counters", func(t *testing.T) {
		m := Metadata{CostUSD: 1.0, Tokens: 100, ModelCalls: 2}
		out := Accumulate(m, Delta{CostUSD: 0.5, Tokens: 10, ModelCalls: 1})

		if out.CostUSD < m.CostUSD || out.Tokens < m.Tokens || out.ModelCalls < m.ModelCalls {
			t.Errorf("counters decreased: %+v -> %+v", m, out)
		}
	})

	t.Run("severity counts summed per category", func(t *testing.T) {
		m := Metadata{SeverityCounts: map[string]int{"critical": 1, "low": 2}}
		out := Accumulate(m, Delta{SeverityCounts: map[string]int{"critical": 2, "high": 1}})

		if out.SeverityCounts["critical"] != 3 {
			t.Errorf("expected 3 critical, got %d", out.SeverityCounts["critical"])
		}
		if out.SeverityCounts["high"] != 1 {
			t.Errorf("expected 1 high, got %d", out.SeverityCounts["high"])
		}
		if out.SeverityCounts["low"] != 2 {
			t.Errorf("expected 2 low, got %d", out.SeverityCounts["low"])
		}
		if m.SeverityCounts["critical"] != 1 {
			t.Error("input metadata mutated")
		}
	})

	t.Run("requires approval is sticky", func(t *testing.T) {
		m := Accumulate(Metadata{}, Delta{RequiresApproval: true})
		m = Accumulate(m, Delta{})
		if !m.RequiresApproval {
			t.Error("requires_approval flag was dropped")
		}
	})
}

func TestClone(t *testing.T) {
	st := newTestState()
	st = st.Append("finding-1")
	st = st.WithDoc(testDoc{Diff: "diff --git a/x b/x"})
	st.Meta.SeverityCounts = map[string]int{"high": 1}

	copied, err := st.Clone()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	copied.Results[0] = "mutated"
	copied.Meta.SeverityCounts["high"] = 99
	copied.Doc.Diff = "changed"

	if st.Results[0] != "finding-1" {
		t.Error("clone shares results backing array with original")
	}
	if st.Meta.SeverityCounts["high"] != 1 {
		t.Error("clone shares severity map with original")
	}
	if st.Doc.Diff != "diff --git a/x b/x" {
		t.Error("clone shares doc with original")
	}
}
