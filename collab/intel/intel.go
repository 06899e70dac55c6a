// Package intel defines the intelligence collaborator: an AI provider
// that analyzes code and returns structured findings with usage
// accounting. Vendor SDK wrappers live in the subpackages; the workflow
// core only sees the Provider interface.
package intel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Mode selects what an analysis pass looks for.
type Mode string

const (
	ModeSecurity    Mode = "security"
	ModePerformance Mode = "performance"
	ModeQuality     Mode = "quality"

	// ModeRemediation asks for concrete fixes to previously found
	// issues; the recommendation field carries the replacement code.
	ModeRemediation Mode = "remediation"
)

// Finding is one issue reported by a provider. Severity arrives as the
// provider's raw string; the workflow layer parses it into its ordered
// enum and drops anything unrecognized.
type Finding struct {
	Severity       string  `json:"severity"`
	Category       string  `json:"category"`
	File           string  `json:"file"`
	Line           int     `json:"line"`
	Description    string  `json:"description"`
	Recommendation string  `json:"remediation"`
	Confidence     float64 `json:"confidence"`
	Provider       string  `json:"provider,omitempty"`
}

// ID derives a stable artifact identifier for review-history
// deduplication. Two findings at the same location with the same
// category and description are the same artifact, whichever provider
// or run produced them.
func (f Finding) ID() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s", f.File, f.Line, f.Category, f.Description)))
	return hex.EncodeToString(sum[:8])
}

// Analysis is one provider call's result: findings plus the usage the
// call consumed. Cost and token counts feed the metadata counters.
type Analysis struct {
	Findings  []Finding
	Model     string
	CostUSD   float64
	TokensIn  int64
	TokensOut int64
}

// Provider is the intelligence collaborator contract. Analyze must
// honor ctx cancellation and return collaborator-classified errors so
// the node retry policy can tell transient from permanent.
type Provider interface {
	Analyze(ctx context.Context, content string, mode Mode) (Analysis, error)
	Name() string
}
