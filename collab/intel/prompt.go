package intel

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BuildPrompt renders the analysis prompt for one mode over the given
// content (typically a unified diff). All providers share the prompt so
// their findings stay comparable.
func BuildPrompt(mode Mode, content string) string {
	var sb strings.Builder

	switch mode {
	case ModeSecurity:
		sb.WriteString("You are a security auditor. Review the following code changes for vulnerabilities: ")
		sb.WriteString("injection, authentication flaws, secrets in code, unsafe deserialization, path traversal.\n\n")
	case ModePerformance:
		sb.WriteString("You are a performance engineer. Review the following code changes for performance problems: ")
		sb.WriteString("N+1 queries, unbounded allocations, blocking calls on hot paths, missing caching.\n\n")
	case ModeQuality:
		sb.WriteString("You are a senior reviewer. Review the following code changes for quality issues: ")
		sb.WriteString("error handling gaps, dead code, misleading names, missing edge cases.\n\n")
	case ModeRemediation:
		sb.WriteString("You are a remediation assistant. For each security issue in the following code changes, ")
		sb.WriteString("produce a concrete fix; put the complete replacement code in the remediation field.\n\n")
	default:
		sb.WriteString("Review the following code changes.\n\n")
	}

	sb.WriteString("Code changes:\n\n```\n")
	sb.WriteString(content)
	sb.WriteString("\n```\n\n")

	sb.WriteString("Respond with a JSON array of findings. Each finding must have:\n")
	sb.WriteString("- file: path where the issue was found\n")
	sb.WriteString("- line: line number (integer, 0 for file-level issues)\n")
	sb.WriteString("- severity: one of [critical, high, medium, low, info]\n")
	sb.WriteString("- category: short tag, e.g. security, performance, quality\n")
	sb.WriteString("- description: what is wrong\n")
	sb.WriteString("- remediation: how to fix it\n")
	sb.WriteString("- confidence: number between 0.0 and 1.0\n\n")
	sb.WriteString("Return ONLY the JSON array, no other text. If nothing is found, return []")

	return sb.String()
}

// ParseFindings decodes a provider's response text into findings. It
// tries the whole text as JSON first, then falls back to the outermost
// JSON array when the model wrapped it in prose.
func ParseFindings(text, provider string) ([]Finding, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []Finding{}, nil
	}

	var findings []Finding
	if err := json.Unmarshal([]byte(text), &findings); err != nil {
		start := strings.Index(text, "[")
		end := strings.LastIndex(text, "]")
		if start == -1 || end == -1 || start >= end {
			return nil, fmt.Errorf("no JSON array in response")
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &findings); err != nil {
			return nil, fmt.Errorf("parse findings: %w", err)
		}
	}

	kept := findings[:0]
	for _, f := range findings {
		if f.Description == "" {
			continue
		}
		f.Provider = provider
		kept = append(kept, f)
	}
	return kept, nil
}
