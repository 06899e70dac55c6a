package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vrushitpatel/repoauditor/collab"
	"github.com/vrushitpatel/repoauditor/collab/intel"
	"github.com/vrushitpatel/repoauditor/flow"
	"github.com/vrushitpatel/repoauditor/store"
)

func runReview(t *testing.T, w *Review) ReviewState {
	t.Helper()
	def, err := w.Definition()
	if err != nil {
		t.Fatalf("definition: %v", err)
	}
	runner := flow.NewRunner[ReviewDoc, Finding]()
	initial := flow.NewState[ReviewDoc, Finding](flow.NewTaskContext("acme/site", 7, "dev"))

	final, err := runner.Run(context.Background(), def, initial)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return final
}

func TestReviewSkipsEmptyDiff(t *testing.T) {
	host := newMockHost(testChange(""))
	provider := &mockProvider{}
	w := NewReview(host, provider, ReviewConfig{Retry: fastRetry()})

	final := runReview(t, w)

	if final.Step != flow.StepCompleted {
		t.Errorf("expected step %q, got %q", flow.StepCompleted, final.Step)
	}
	if len(final.Results) != 0 {
		t.Errorf("expected no results, got %v", final.Results)
	}
	if final.Doc.SkipReason == "" {
		t.Error("expected a skip reason on the document")
	}
	if provider.callCount() != 0 {
		t.Errorf("provider called %d times on an empty diff", provider.callCount())
	}
	if host.postCount() != 0 {
		t.Errorf("posted %d results on an empty diff", host.postCount())
	}
}

func TestReviewCriticalFindingRequiresApproval(t *testing.T) {
	host := newMockHost(testChange("diff --git a/app/db.go b/app/db.go"))
	provider := &mockProvider{
		byMode: map[intel.Mode][]intel.Finding{
			intel.ModeSecurity: {{
				Severity:    "critical",
				Category:    "security",
				File:        "app/db.go",
				Line:        42,
				Description: "query built by string concatenation",
			}},
		},
		cost:   0.02,
		tokens: 500,
	}
	w := NewReview(host, provider, ReviewConfig{Retry: fastRetry()})

	final := runReview(t, w)

	if final.Step != flow.StepCompleted {
		t.Fatalf("expected step %q, got %q (err: %v)", flow.StepCompleted, final.Step, final.Err)
	}
	if len(final.Results) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(final.Results))
	}
	if final.Results[0].Severity != SeverityCritical {
		t.Errorf("unexpected severity %q", final.Results[0].Severity)
	}
	if !final.Meta.RequiresApproval {
		t.Error("expected the approval flag to be set")
	}
	if final.Meta.SeverityCounts["critical"] != 1 {
		t.Errorf("unexpected severity counts: %v", final.Meta.SeverityCounts)
	}
	if final.Meta.ModelCalls != 3 || final.Meta.Tokens != 3000 {
		t.Errorf("unexpected usage: %d calls, %d tokens", final.Meta.ModelCalls, final.Meta.Tokens)
	}
	if host.postCount() != 1 {
		t.Fatalf("expected exactly one posted result, got %d", host.postCount())
	}
	if !strings.Contains(host.posted[0], "approval") {
		t.Errorf("posted summary does not mention approval:\n%s", host.posted[0])
	}
	if !strings.Contains(host.posted[0], "string concatenation") {
		t.Errorf("posted summary does not carry the finding:\n%s", host.posted[0])
	}
}

func TestReviewFindingsKeepRegistrationOrder(t *testing.T) {
	// The performance branch finishes first; its findings still come
	// after the security branch's in the merged results.
	host := newMockHost(testChange("diff"))
	provider := &mockProvider{
		byMode: map[intel.Mode][]intel.Finding{
			intel.ModeSecurity:    {{Severity: "high", Category: "security", File: "a.go", Description: "sec"}},
			intel.ModePerformance: {{Severity: "low", Category: "performance", File: "b.go", Description: "perf"}},
		},
		delay: map[intel.Mode]time.Duration{intel.ModeSecurity: 30 * time.Millisecond},
	}
	w := NewReview(host, provider, ReviewConfig{
		Modes: []intel.Mode{intel.ModeSecurity, intel.ModePerformance},
		Retry: fastRetry(),
	})

	final := runReview(t, w)

	if len(final.Results) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(final.Results))
	}
	if final.Results[0].Category != "security" || final.Results[1].Category != "performance" {
		t.Errorf("results out of registration order: %v", final.Results)
	}
}

func TestReviewPartialBranchFailure(t *testing.T) {
	findings := map[intel.Mode][]intel.Finding{
		intel.ModeSecurity: {{Severity: "high", Category: "security", File: "a.go", Description: "sec"}},
		intel.ModeQuality:  {{Severity: "low", Category: "quality", File: "c.go", Description: "qual"}},
	}
	failing := map[intel.Mode]error{
		intel.ModePerformance: collab.PermanentError("analyze", errors.New("quota exhausted")),
	}

	t.Run("partial success keeps sibling findings", func(t *testing.T) {
		host := newMockHost(testChange("diff"))
		provider := &mockProvider{byMode: findings, errByMode: failing}
		w := NewReview(host, provider, ReviewConfig{Retry: fastRetry()})

		final := runReview(t, w)

		if final.Step != flow.StepFailed {
			t.Errorf("expected step %q, got %q", flow.StepFailed, final.Step)
		}
		if final.Err == nil || final.Err.Kind != flow.KindCollaborator {
			t.Errorf("expected collaborator error, got %v", final.Err)
		}
		if len(final.Results) != 2 {
			t.Fatalf("expected 2 retained findings, got %d", len(final.Results))
		}
		if final.Results[0].Category != "security" || final.Results[1].Category != "quality" {
			t.Errorf("results out of registration order: %v", final.Results)
		}
		if host.postCount() != 1 {
			t.Errorf("expected one failure summary, got %d posts", host.postCount())
		}
	})

	t.Run("all-or-nothing discards findings", func(t *testing.T) {
		host := newMockHost(testChange("diff"))
		provider := &mockProvider{byMode: findings, errByMode: failing}
		w := NewReview(host, provider, ReviewConfig{AllOrNothing: true, Retry: fastRetry()})

		final := runReview(t, w)

		if final.Err == nil {
			t.Fatal("expected an error")
		}
		if len(final.Results) != 0 {
			t.Errorf("expected no results in all-or-nothing mode, got %v", final.Results)
		}
	})
}

func TestReviewRetriesTransientAnalysis(t *testing.T) {
	host := newMockHost(testChange("diff"))
	provider := &flakyProvider{failures: 2}
	w := NewReview(host, provider, ReviewConfig{
		Modes: []intel.Mode{intel.ModeSecurity},
		Retry: fastRetry(),
	})

	final := runReview(t, w)

	if final.Failed() {
		t.Fatalf("expected recovery after retries, got %v", final.Err)
	}
	if provider.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", provider.callCount())
	}
}

// flakyProvider fails its first N calls with a transient error.
type flakyProvider struct {
	mockProvider
	failures int
}

func (p *flakyProvider) Analyze(ctx context.Context, content string, mode intel.Mode) (intel.Analysis, error) {
	an, err := p.mockProvider.Analyze(ctx, content, mode)
	if err != nil {
		return an, err
	}
	if p.callCount() <= p.failures {
		return intel.Analysis{}, collab.TransientError("analyze", errors.New("rate limited"))
	}
	return an, nil
}

func TestReviewIncrementalSkipsSeenFindings(t *testing.T) {
	finding := intel.Finding{Severity: "high", Category: "security", File: "a.go", Line: 3, Description: "hardcoded secret"}
	history := collab.NewHistory(store.NewMemKV(), 0)

	build := func(host *mockHost) *Review {
		provider := &mockProvider{byMode: map[intel.Mode][]intel.Finding{intel.ModeSecurity: {finding}}}
		return NewReview(host, provider, ReviewConfig{
			Modes:   []intel.Mode{intel.ModeSecurity},
			History: history,
			Retry:   fastRetry(),
		})
	}

	host := newMockHost(testChange("diff"))
	first := runReview(t, build(host))
	if len(first.Results) != 1 {
		t.Fatalf("first run: expected 1 finding, got %d", len(first.Results))
	}

	second := runReview(t, build(host))
	if len(second.Results) != 0 {
		t.Errorf("second run: expected seen finding skipped, got %v", second.Results)
	}
	if second.Failed() {
		t.Errorf("second run failed: %v", second.Err)
	}
}

func TestReviewBudgetTimeoutStillPostsFailureSummary(t *testing.T) {
	host := newMockHost(testChange("diff"))
	provider := &mockProvider{
		delay: map[intel.Mode]time.Duration{intel.ModeSecurity: time.Second},
	}
	w := NewReview(host, provider, ReviewConfig{
		Modes: []intel.Mode{intel.ModeSecurity},
		Retry: fastRetry(),
	})
	def, err := w.Definition()
	if err != nil {
		t.Fatalf("definition: %v", err)
	}

	runner := flow.NewRunner(flow.WithRunBudget[ReviewDoc, Finding](30 * time.Millisecond))
	initial := flow.NewState[ReviewDoc, Finding](flow.NewTaskContext("acme/site", 7, "dev"))
	final, err := runner.Run(context.Background(), def, initial)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if final.Step != flow.StepFailed || final.Err == nil {
		t.Fatalf("expected a failed run, got step %q err %v", final.Step, final.Err)
	}
	if host.postCount() != 1 {
		t.Fatalf("expected exactly one failure summary after budget expiry, got %d posts", host.postCount())
	}
	if !strings.Contains(host.posted[0], final.Context.CorrelationID) {
		t.Errorf("failure summary missing correlation id:\n%s", host.posted[0])
	}
}
