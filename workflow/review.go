package workflow

import (
	"context"
	"time"

	"github.com/vrushitpatel/repoauditor/collab"
	"github.com/vrushitpatel/repoauditor/collab/intel"
	"github.com/vrushitpatel/repoauditor/flow"
)

// ReviewWorkflow is the registered name of the comprehensive review.
const ReviewWorkflow = "comprehensive-review"

// defaultModes is the analysis fan-out of the comprehensive review.
// Registration order here fixes the merge order of findings.
var defaultModes = []intel.Mode{intel.ModeSecurity, intel.ModePerformance, intel.ModeQuality}

// defaultRetry retries transient collaborator failures up to three
// attempts with bounded backoff.
func defaultRetry() *flow.RetryPolicy {
	return &flow.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Retryable:   collab.IsTransient,
	}
}

// ReviewConfig tunes the comprehensive review.
type ReviewConfig struct {
	// GateOn is the severity at or above which the review requires
	// manual approval. Zero means SeverityHigh.
	GateOn Severity

	// Modes are the parallel analysis passes, in registration order.
	// Empty means security, performance, quality.
	Modes []intel.Mode

	// MaxConcurrent bounds the analysis fan-out. Zero means the
	// dispatcher default.
	MaxConcurrent int

	// AllOrNothing discards every branch's findings when any analysis
	// branch fails. The default keeps partial results alongside the
	// error.
	AllOrNothing bool

	// History, when set, drops findings already recorded for this
	// change request and records fresh ones after reporting.
	History *collab.History

	// Retry overrides the collaborator retry policy.
	Retry *flow.RetryPolicy

	// Collectors, when set, instruments nodes and fan-out branches.
	Collectors *flow.Collectors
}

// Review is the comprehensive review workflow: fetch the change,
// analyze it in parallel passes, gate on severity, post a report.
type Review struct {
	host     collab.CodeHost
	provider intel.Provider
	cfg      ReviewConfig
}

// NewReview builds the workflow around its collaborators.
func NewReview(host collab.CodeHost, provider intel.Provider, cfg ReviewConfig) *Review {
	if cfg.GateOn == "" {
		cfg.GateOn = SeverityHigh
	}
	if len(cfg.Modes) == 0 {
		cfg.Modes = defaultModes
	}
	if cfg.Retry == nil {
		cfg.Retry = defaultRetry()
	}
	return &Review{host: host, provider: provider, cfg: cfg}
}

// Definition builds the immutable review graph. Safe to share across
// concurrent runs.
func (w *Review) Definition() (*flow.Definition[ReviewDoc, Finding], error) {
	return flow.NewBuilder[ReviewDoc, Finding](ReviewWorkflow).
		AddFunc("fetch-context", w.fetchContext).
		AddFunc("skip-review", w.skipReview).
		AddFunc("analyze", w.analyze).
		AddFunc("approval-required", w.approvalRequired).
		AddFunc("report", w.report).
		AddFunc("report-failure", w.reportFailure).
		Policy("fetch-context", flow.NodePolicy{Retry: w.cfg.Retry}).
		Policy("report", flow.NodePolicy{Retry: w.cfg.Retry}).
		StartAt("fetch-context").
		Branch("fetch-context", SkipIfEmpty, map[flow.Label]string{
			LabelSkip:    "skip-review",
			LabelProceed: "analyze",
		}).
		Branch("analyze", SeverityGate(w.cfg.GateOn), map[flow.Label]string{
			LabelApproval: "approval-required",
			LabelFinalize: "report",
		}).
		Connect("approval-required", "report").
		FailWith("report-failure").
		Build()
}

func (w *Review) fetchContext(ctx context.Context, st ReviewState) (ReviewState, error) {
	change, err := w.host.FetchContext(ctx, st.Context.Repository, st.Context.RequestID)
	if err != nil {
		return st, err
	}
	return st.WithDoc(ReviewDoc{Change: change}), nil
}

// skipReview terminates a review with nothing to analyze. It makes no
// collaborator calls; an empty change needs no report.
func (w *Review) skipReview(_ context.Context, st ReviewState) (ReviewState, error) {
	doc := st.Doc
	doc.SkipReason = "no reviewable changes"
	return st.WithDoc(doc), nil
}

// analyze fans the state out into one branch per analysis mode and
// merges the branches back deterministically. A branch failure comes
// back inside the state, so partial findings survive it.
func (w *Review) analyze(ctx context.Context, st ReviewState) (ReviewState, error) {
	branches := make([]flow.BranchSpec[ReviewDoc, Finding], 0, len(w.cfg.Modes))
	for _, mode := range w.cfg.Modes {
		branches = append(branches, flow.BranchSpec[ReviewDoc, Finding]{
			Name: "analyze-" + string(mode),
			Node: w.analyzeOne(mode),
		})
	}

	results := flow.FanOut(ctx, st, branches, flow.FanOutOptions{
		MaxConcurrent: w.cfg.MaxConcurrent,
		Retry:         w.cfg.Retry,
		Collectors:    w.cfg.Collectors,
	})
	return flow.FanIn(st, results, w.cfg.AllOrNothing), nil
}

// analyzeOne runs a single analysis pass: call the provider, drop
// findings the history has already seen, fold usage into the counters.
func (w *Review) analyzeOne(mode intel.Mode) flow.NodeFunc[ReviewDoc, Finding] {
	return func(ctx context.Context, st ReviewState) (ReviewState, error) {
		analysis, err := w.provider.Analyze(ctx, st.Doc.Change.Diff, mode)
		if err != nil {
			return st, err
		}

		delta := flow.Delta{
			CostUSD:    analysis.CostUSD,
			Tokens:     analysis.TokensIn + analysis.TokensOut,
			ModelCalls: 1,
		}
		var fresh []Finding
		for _, raw := range analysis.Findings {
			f, ok := fromIntel(raw)
			if !ok {
				continue
			}
			if w.cfg.History != nil {
				seen, err := w.cfg.History.Seen(ctx, st.Context.Repository, st.Context.RequestID, f.ArtifactID)
				if err != nil {
					return st, err
				}
				if seen {
					continue
				}
			}
			if delta.SeverityCounts == nil {
				delta.SeverityCounts = make(map[string]int)
			}
			delta.SeverityCounts[string(f.Severity)]++
			fresh = append(fresh, f)
		}

		out, err := st.Update(flow.Patch{Meta: &delta})
		if err != nil {
			return st, err
		}
		return out.Append(fresh...), nil
	}
}

// approvalRequired flags the run for manual review. The flag is sticky
// across later metadata updates.
func (w *Review) approvalRequired(_ context.Context, st ReviewState) (ReviewState, error) {
	return st.Update(flow.Patch{Meta: &flow.Delta{RequiresApproval: true}})
}

// report posts the review summary and records the fresh findings in the
// history so the next run on this change request skips them.
func (w *Review) report(ctx context.Context, st ReviewState) (ReviewState, error) {
	body := reviewSummary(st)
	if _, err := w.host.PostResult(ctx, st.Context.Repository, st.Context.RequestID, body); err != nil {
		return st, err
	}

	if w.cfg.History != nil && len(st.Results) > 0 {
		ids := make([]string, len(st.Results))
		for i, f := range st.Results {
			ids[i] = f.ArtifactID
		}
		if err := w.cfg.History.Record(ctx, st.Context.Repository, st.Context.RequestID, ids...); err != nil {
			return st, err
		}
	}
	return st, nil
}

// reportFailure posts the single human-readable failure summary. The
// run stays failed with its original error whatever happens here.
func (w *Review) reportFailure(ctx context.Context, st ReviewState) (ReviewState, error) {
	body := failureSummary("Review", st.Context.CorrelationID, st.Err)
	if _, err := w.host.PostResult(ctx, st.Context.Repository, st.Context.RequestID, body); err != nil {
		return st, err
	}
	return st, nil
}
