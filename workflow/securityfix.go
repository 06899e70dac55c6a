package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/vrushitpatel/repoauditor/collab"
	"github.com/vrushitpatel/repoauditor/collab/intel"
	"github.com/vrushitpatel/repoauditor/flow"
)

// SecurityFixWorkflow is the registered name of the security fix.
const SecurityFixWorkflow = "security-fix"

// DefaultBranchPrefix namespaces the disposable fix branches.
const DefaultBranchPrefix = "repoauditor/fix"

// TestRunner executes the project's test suite against a ref. An error
// means the suite could not run; a failing suite comes back as a
// result with Passed false.
type TestRunner interface {
	RunTests(ctx context.Context, repo, ref string) (TestResult, error)
}

// SecurityFixConfig tunes the security-fix workflow.
type SecurityFixConfig struct {
	// BranchPrefix namespaces the disposable fix branches. Zero means
	// DefaultBranchPrefix.
	BranchPrefix string

	// Retry overrides the collaborator retry policy.
	Retry *flow.RetryPolicy
}

// SecurityFix is the remediation workflow: scan the change for security
// issues, plan fixes, apply them on a disposable branch, run the test
// suite, and either open a change request or roll everything back.
type SecurityFix struct {
	host     collab.CodeHost
	provider intel.Provider
	tests    TestRunner
	cfg      SecurityFixConfig
}

// NewSecurityFix builds the workflow around its collaborators.
func NewSecurityFix(host collab.CodeHost, provider intel.Provider, tests TestRunner, cfg SecurityFixConfig) *SecurityFix {
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = DefaultBranchPrefix
	}
	if cfg.Retry == nil {
		cfg.Retry = defaultRetry()
	}
	return &SecurityFix{host: host, provider: provider, tests: tests, cfg: cfg}
}

// Definition builds the immutable fix graph.
func (w *SecurityFix) Definition() (*flow.Definition[FixDoc, Record], error) {
	return flow.NewBuilder[FixDoc, Record](SecurityFixWorkflow).
		AddFunc("fetch-context", w.fetchContext).
		AddFunc("scan", w.scan).
		AddFunc("post-clean", w.postClean).
		AddFunc("plan-fixes", w.planFixes).
		AddFunc("open-branch", w.openBranch).
		AddFunc("apply-fixes", w.applyFixes).
		AddFunc("run-tests", w.runTests).
		AddFunc("open-change-request", w.openChangeRequest).
		AddFunc("rollback", w.rollback).
		AddFunc("report-failure", w.reportFailure).
		Policy("fetch-context", flow.NodePolicy{Retry: w.cfg.Retry}).
		Policy("scan", flow.NodePolicy{Retry: w.cfg.Retry}).
		Policy("plan-fixes", flow.NodePolicy{Retry: w.cfg.Retry}).
		Policy("open-change-request", flow.NodePolicy{Retry: w.cfg.Retry}).
		StartAt("fetch-context").
		Connect("fetch-context", "scan").
		Branch("scan", FindingsGate, map[flow.Label]string{
			LabelSkip:    "post-clean",
			LabelProceed: "plan-fixes",
		}).
		Connect("plan-fixes", "open-branch").
		Connect("open-branch", "apply-fixes").
		Connect("apply-fixes", "run-tests").
		Branch("run-tests", TestOutcome, map[flow.Label]string{
			LabelFinalize: "open-change-request",
			LabelRollback: "rollback",
		}).
		FailWith("report-failure").
		Build()
}

// artifacts adapts the code host into the rollback manager's artifact
// store, bound to the run's fix branch. Reads and writes only ever
// touch that branch.
func (w *SecurityFix) artifacts(st FixState) flow.ArtifactStore {
	return branchArtifacts{host: w.host, repo: st.Context.Repository, branch: st.Doc.Branch}
}

type branchArtifacts struct {
	host   collab.CodeHost
	repo   string
	branch string
}

func (a branchArtifacts) ReadArtifact(ctx context.Context, path string) ([]byte, error) {
	return a.host.GetFileContent(ctx, a.repo, path, a.branch)
}

func (a branchArtifacts) WriteArtifact(ctx context.Context, path string, data []byte) error {
	return a.host.UpdateFile(ctx, a.repo, a.branch, path, data, "repoauditor: update "+path)
}

// hostRefs adapts the code host into the rollback manager's ref store.
type hostRefs struct {
	host collab.CodeHost
	repo string
}

func (r hostRefs) CreateRef(ctx context.Context, name, base string) error {
	_, err := r.host.CreateBranch(ctx, r.repo, name, base)
	return err
}

func (w *SecurityFix) fetchContext(ctx context.Context, st FixState) (FixState, error) {
	change, err := w.host.FetchContext(ctx, st.Context.Repository, st.Context.RequestID)
	if err != nil {
		return st, err
	}
	return st.WithDoc(FixDoc{Change: change}), nil
}

// scan runs the security analysis pass and records its findings.
func (w *SecurityFix) scan(ctx context.Context, st FixState) (FixState, error) {
	analysis, err := w.provider.Analyze(ctx, st.Doc.Change.Diff, intel.ModeSecurity)
	if err != nil {
		return st, err
	}

	delta := flow.Delta{
		CostUSD:    analysis.CostUSD,
		Tokens:     analysis.TokensIn + analysis.TokensOut,
		ModelCalls: 1,
	}
	var records []Record
	for _, raw := range analysis.Findings {
		f, ok := fromIntel(raw)
		if !ok {
			continue
		}
		if delta.SeverityCounts == nil {
			delta.SeverityCounts = make(map[string]int)
		}
		delta.SeverityCounts[string(f.Severity)]++
		records = append(records, Record{Kind: RecordFinding, Finding: &f})
	}

	out, err := st.Update(flow.Patch{Meta: &delta})
	if err != nil {
		return st, err
	}
	return out.Append(records...), nil
}

// postClean reports a clean scan and terminates.
func (w *SecurityFix) postClean(ctx context.Context, st FixState) (FixState, error) {
	body := "## Security scan complete\n\nNo security issues found in this change.\n"
	if _, err := w.host.PostResult(ctx, st.Context.Repository, st.Context.RequestID, body); err != nil {
		return st, err
	}
	return st, nil
}

// planFixes asks the provider for concrete remediations of the scanned
// findings. A remediation's recommendation is the full replacement
// content for its file.
func (w *SecurityFix) planFixes(ctx context.Context, st FixState) (FixState, error) {
	analysis, err := w.provider.Analyze(ctx, remediationInput(st), intel.ModeRemediation)
	if err != nil {
		return st, err
	}

	delta := flow.Delta{
		CostUSD:    analysis.CostUSD,
		Tokens:     analysis.TokensIn + analysis.TokensOut,
		ModelCalls: 1,
	}
	var fixes []Fix
	var records []Record
	for _, raw := range analysis.Findings {
		f, ok := fromIntel(raw)
		if !ok || f.File == "" || f.Recommendation == "" {
			continue
		}
		fix := Fix{
			ArtifactID:  f.ArtifactID,
			File:        f.File,
			Severity:    f.Severity,
			Description: f.Description,
			Content:     f.Recommendation,
		}
		fixes = append(fixes, fix)
		records = append(records, Record{Kind: RecordFix, Fix: &fix})
	}
	if len(fixes) == 0 {
		return st, fmt.Errorf("remediation produced no applicable fixes")
	}

	out, err := st.Update(flow.Patch{Meta: &delta})
	if err != nil {
		return st, err
	}
	doc := out.Doc
	doc.Fixes = fixes
	return out.WithDoc(doc).Append(records...), nil
}

// remediationInput bundles the diff with the scanned findings so the
// provider fixes what the scan flagged, not what it rediscovers.
func remediationInput(st FixState) string {
	var b strings.Builder
	b.WriteString("Findings to remediate:\n")
	for _, rec := range st.Results {
		if rec.Kind != RecordFinding || rec.Finding == nil {
			continue
		}
		f := rec.Finding
		fmt.Fprintf(&b, "- %s:%d [%s/%s] %s\n", f.File, f.Line, f.Severity, f.Category, f.Description)
	}
	b.WriteString("\nChanged code:\n")
	b.WriteString(st.Doc.Change.Diff)
	return b.String()
}

// openBranch creates the disposable fix branch from the change's head.
// Every mutation after this targets only that branch, so a failed run
// can simply abandon it.
func (w *SecurityFix) openBranch(ctx context.Context, st FixState) (FixState, error) {
	name := fmt.Sprintf("%s/%d-%s", w.cfg.BranchPrefix, st.Context.RequestID, shortID(st.Context.CorrelationID))
	out, err := flow.TakeBranchSnapshot(ctx, hostRefs{host: w.host, repo: st.Context.Repository}, st, name, st.Doc.Change.HeadSHA)
	if err != nil {
		return st, err
	}
	doc := out.Doc
	doc.Branch = name
	return out.WithDoc(doc), nil
}

// applyFixes writes each fix onto the branch, snapshotting the original
// content first so a later test failure can restore it exactly.
func (w *SecurityFix) applyFixes(ctx context.Context, st FixState) (FixState, error) {
	store := w.artifacts(st)
	for _, fix := range st.Doc.Fixes {
		out, err := flow.TakeContentSnapshot(ctx, store, st, fix.File)
		if err != nil {
			return st, err
		}
		if err := store.WriteArtifact(ctx, fix.File, []byte(fix.Content)); err != nil {
			return st, err
		}
		st = out
		doc := st.Doc
		doc.Applied = append(doc.Applied, fix.File)
		st = st.WithDoc(doc)
	}
	return st, nil
}

// runTests executes the suite on the fix branch and records the
// outcome. The routing decision belongs to the TestOutcome router.
func (w *SecurityFix) runTests(ctx context.Context, st FixState) (FixState, error) {
	result, err := w.tests.RunTests(ctx, st.Context.Repository, st.Doc.Branch)
	if err != nil {
		return st, err
	}
	doc := st.Doc
	doc.Tests = &result
	return st.WithDoc(doc).Append(Record{Kind: RecordTest, Test: &result}), nil
}

// openChangeRequest exposes the fix branch for review and leaves the
// run awaiting merge.
func (w *SecurityFix) openChangeRequest(ctx context.Context, st FixState) (FixState, error) {
	title := fmt.Sprintf("Security fixes for #%d", st.Context.RequestID)
	ref, err := w.host.CreateChangeRequest(ctx, st.Context.Repository, title, fixSummary(st), st.Doc.Branch, st.Doc.Change.BaseRef)
	if err != nil {
		return st, err
	}

	doc := st.Doc
	doc.ChangeRequest = ref.URL
	out, err := st.WithDoc(doc).Update(flow.StepPatch(flow.StepAwaitingMerge))
	if err != nil {
		return st, err
	}
	return out, nil
}

// rollback restores every snapshotted file to its pre-mutation bytes
// and fails the run. A restore failure outranks the test failure: it
// means the branch holds changes nobody approved.
func (w *SecurityFix) rollback(ctx context.Context, st FixState) (FixState, error) {
	restored, err := flow.RollbackAll(ctx, w.artifacts(st), st)
	if err != nil {
		return st, err
	}
	return restored.MarkFailed(&flow.Error{
		Kind:    flow.KindNode,
		Node:    "run-tests",
		Message: "test suite failed on fix branch, applied fixes rolled back",
	}), nil
}

// reportFailure posts the single failure summary; the run keeps its
// original error.
func (w *SecurityFix) reportFailure(ctx context.Context, st FixState) (FixState, error) {
	body := failureSummary("Security fix", st.Context.CorrelationID, st.Err)
	if _, err := w.host.PostResult(ctx, st.Context.Repository, st.Context.RequestID, body); err != nil {
		return st, err
	}
	return st, nil
}

// shortID trims a correlation id for use in branch names.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
