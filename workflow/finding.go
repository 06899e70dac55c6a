// Package workflow wires the graph execution core to the pull request
// review and remediation workflows: domain record types, the canonical
// routers, the comprehensive-review and security-fix graph definitions,
// and the per-trigger executor that gates runs behind admission control.
package workflow

import (
	"strings"

	"github.com/vrushitpatel/repoauditor/collab"
	"github.com/vrushitpatel/repoauditor/collab/intel"
	"github.com/vrushitpatel/repoauditor/flow"
)

// Severity ranks a finding. The set is ordered: Critical > High >
// Medium > Low > Info.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityOrder lists severities from most to least severe. Routers and
// reports iterate it, so critical always takes precedence over high no
// matter how results are ordered.
var severityOrder = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

var severityRank = map[Severity]int{
	SeverityCritical: 5,
	SeverityHigh:     4,
	SeverityMedium:   3,
	SeverityLow:      2,
	SeverityInfo:     1,
}

// Rank returns the numeric ordering of s; higher means more severe.
// Unknown severities rank zero, below Info.
func (s Severity) Rank() int { return severityRank[s] }

// AtLeast reports whether s is as severe as min or more.
func (s Severity) AtLeast(min Severity) bool { return s.Rank() >= min.Rank() }

// ParseSeverity normalizes a provider's raw severity string. Providers
// are instructed to use the canonical names; anything else is dropped
// by the caller.
func ParseSeverity(raw string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := severityRank[s]
	return s, ok
}

// HighestSeverity reports the most severe category present in a
// metadata severity-count map.
func HighestSeverity(counts map[string]int) (Severity, bool) {
	for _, sev := range severityOrder {
		if counts[string(sev)] > 0 {
			return sev, true
		}
	}
	return "", false
}

// Finding is one reviewed issue, produced by the analysis nodes and
// consumed by the severity gate and the report.
type Finding struct {
	ArtifactID     string   `json:"artifact_id"`
	Severity       Severity `json:"severity"`
	Category       string   `json:"category"`
	File           string   `json:"file"`
	Line           int      `json:"line"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	Provider       string   `json:"provider,omitempty"`
}

// fromIntel converts a provider finding, parsing its raw severity.
// Findings with an unrecognized severity or no description are dropped.
func fromIntel(f intel.Finding) (Finding, bool) {
	sev, ok := ParseSeverity(f.Severity)
	if !ok || f.Description == "" {
		return Finding{}, false
	}
	return Finding{
		ArtifactID:     f.ID(),
		Severity:       sev,
		Category:       f.Category,
		File:           f.File,
		Line:           f.Line,
		Description:    f.Description,
		Recommendation: f.Recommendation,
		Confidence:     f.Confidence,
		Provider:       f.Provider,
	}, true
}

// Fix is one planned remediation: a full replacement for File.
type Fix struct {
	ArtifactID  string   `json:"artifact_id"`
	File        string   `json:"file"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
}

// TestResult is the outcome of running the project's test suite on the
// fix branch.
type TestResult struct {
	Passed bool   `json:"passed"`
	Output string `json:"output,omitempty"`
}

// RecordKind tags the variants of a security-fix result record.
type RecordKind string

const (
	RecordFinding RecordKind = "finding"
	RecordFix     RecordKind = "fix"
	RecordTest    RecordKind = "test"
)

// Record is one security-fix workflow result. Exactly one of the
// payload fields is set, selected by Kind.
type Record struct {
	Kind    RecordKind  `json:"kind"`
	Finding *Finding    `json:"finding,omitempty"`
	Fix     *Fix        `json:"fix,omitempty"`
	Test    *TestResult `json:"test,omitempty"`
}

// ReviewDoc is the comprehensive-review workflow document: the scratch
// data its nodes hand to each other.
type ReviewDoc struct {
	Change     collab.ChangeContext `json:"change"`
	SkipReason string               `json:"skip_reason,omitempty"`
}

// FixDoc is the security-fix workflow document.
type FixDoc struct {
	Change        collab.ChangeContext `json:"change"`
	Branch        string               `json:"branch,omitempty"`
	Fixes         []Fix                `json:"fixes,omitempty"`
	Applied       []string             `json:"applied,omitempty"`
	Tests         *TestResult          `json:"tests,omitempty"`
	ChangeRequest string               `json:"change_request,omitempty"`
}

// ReviewState is the state threaded through the comprehensive review.
type ReviewState = flow.State[ReviewDoc, Finding]

// FixState is the state threaded through the security fix.
type FixState = flow.State[FixDoc, Record]
