package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/vrushitpatel/repoauditor/flow"
)

// reviewSummary renders the posted review result: findings grouped from
// most to least severe, then the usage footer.
func reviewSummary(st ReviewState) string {
	var b strings.Builder

	if len(st.Results) == 0 {
		b.WriteString("## Review complete\n\nNo issues found.\n")
		writeUsage(&b, st.Meta)
		return b.String()
	}

	fmt.Fprintf(&b, "## Review complete: %d finding(s)\n", len(st.Results))
	if st.Meta.RequiresApproval {
		b.WriteString("\n**Manual approval required before merge.**\n")
	}

	for _, sev := range severityOrder {
		var group []Finding
		for _, f := range st.Results {
			if f.Severity == sev {
				group = append(group, f)
			}
		}
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n", strings.ToUpper(string(sev)))
		for _, f := range group {
			fmt.Fprintf(&b, "- `%s:%d` [%s] %s", f.File, f.Line, f.Category, f.Description)
			if f.Recommendation != "" {
				fmt.Fprintf(&b, " Suggestion: %s", f.Recommendation)
			}
			b.WriteString("\n")
		}
	}

	writeUsage(&b, st.Meta)
	return b.String()
}

// fixSummary renders the change request body for applied fixes.
func fixSummary(st FixState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Automated security fixes\n\nApplied %d fix(es):\n\n", len(st.Doc.Fixes))
	for _, fix := range st.Doc.Fixes {
		fmt.Fprintf(&b, "- `%s` (%s): %s\n", fix.File, fix.Severity, fix.Description)
	}
	if st.Doc.Tests != nil && st.Doc.Tests.Passed {
		b.WriteString("\nTest suite passed on the fix branch.\n")
	}
	writeUsage(&b, st.Meta)
	return b.String()
}

// failureSummary is the single human-readable message posted when a run
// fails. It carries the error kind and correlation id for triage; raw
// internal errors and stack traces never leave the system.
func failureSummary(workflow, correlationID string, err *flow.Error) string {
	kind := flow.KindNode
	if err != nil {
		kind = err.Kind
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## %s could not be completed\n\n", workflow)
	fmt.Fprintf(&b, "Error kind: `%s`\n", kind)
	if kind == flow.KindRollback {
		b.WriteString("\n**Some applied changes could not be undone and need manual inspection.**\n")
	}
	fmt.Fprintf(&b, "\nCorrelation id `%s` for support.\n", correlationID)
	return b.String()
}

func writeUsage(b *strings.Builder, m flow.Metadata) {
	fmt.Fprintf(b, "\n---\n%d model call(s), %d tokens, $%.4f, %s\n",
		m.ModelCalls, m.Tokens, m.CostUSD, m.Duration().Round(time.Millisecond))
}
