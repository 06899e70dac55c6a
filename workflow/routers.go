package workflow

import (
	"strings"

	"github.com/vrushitpatel/repoauditor/flow"
)

// Edge labels shared by the workflow graphs.
const (
	LabelProceed  flow.Label = "proceed"
	LabelSkip     flow.Label = "skip"
	LabelApproval flow.Label = "approval-required"
	LabelFinalize flow.Label = "finalize"
	LabelRollback flow.Label = "rollback"
)

// SkipIfEmpty routes a review straight to its terminal node when the
// fetched change has nothing to analyze, avoiding wasted model calls.
func SkipIfEmpty(st ReviewState) flow.Label {
	if strings.TrimSpace(st.Doc.Change.Diff) == "" {
		return LabelSkip
	}
	return LabelProceed
}

// SeverityGate returns a router that sends the review to the
// approval-required node when any finding at or above gateOn exists,
// and to the terminal node otherwise. It reads the metadata severity
// counts, so the verdict is independent of result ordering; the
// severity scan runs from critical downward.
func SeverityGate(gateOn Severity) flow.Router[ReviewDoc, Finding] {
	return func(st ReviewState) flow.Label {
		for _, sev := range severityOrder {
			if !sev.AtLeast(gateOn) {
				break
			}
			if st.Meta.SeverityCounts[string(sev)] > 0 {
				return LabelApproval
			}
		}
		return LabelFinalize
	}
}

// FindingsGate skips fix planning when the security scan came back
// clean.
func FindingsGate(st FixState) flow.Label {
	if len(st.Results) == 0 {
		return LabelSkip
	}
	return LabelProceed
}

// TestOutcome routes to finalize when the suite passed on the fix
// branch, to rollback otherwise.
func TestOutcome(st FixState) flow.Label {
	if st.Doc.Tests != nil && st.Doc.Tests.Passed {
		return LabelFinalize
	}
	return LabelRollback
}
