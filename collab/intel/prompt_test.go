package intel

import (
	"strings"
	"testing"
)

func TestParseFindings(t *testing.T) {
	t.Run("plain JSON array", func(t *testing.T) {
		findings, err := ParseFindings(`[{"file":"a.go","line":10,"severity":"high","category":"security","description":"sql injection","remediation":"use placeholders","confidence":0.9}]`, "anthropic")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(findings) != 1 {
			t.Fatalf("expected 1 finding, got %d", len(findings))
		}
		if findings[0].Provider != "anthropic" {
			t.Errorf("provider not stamped: %q", findings[0].Provider)
		}
		if findings[0].Severity != "high" || findings[0].Line != 10 {
			t.Errorf("unexpected finding: %+v", findings[0])
		}
	})

	t.Run("array wrapped in prose", func(t *testing.T) {
		text := "Here is my review:\n[{\"file\":\"b.go\",\"line\":1,\"severity\":\"low\",\"category\":\"quality\",\"description\":\"unused var\"}]\nHope that helps."
		findings, err := ParseFindings(text, "gemini")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(findings) != 1 || findings[0].File != "b.go" {
			t.Errorf("unexpected findings: %+v", findings)
		}
	})

	t.Run("empty responses", func(t *testing.T) {
		for _, text := range []string{"", "  ", "[]"} {
			findings, err := ParseFindings(text, "openai")
			if err != nil {
				t.Errorf("%q: unexpected error: %v", text, err)
			}
			if len(findings) != 0 {
				t.Errorf("%q: expected no findings", text)
			}
		}
	})

	t.Run("findings without description dropped", func(t *testing.T) {
		findings, err := ParseFindings(`[{"file":"c.go","severity":"info","description":""}]`, "openai")
		if err != nil {
			t.Fatal(err)
		}
		if len(findings) != 0 {
			t.Errorf("expected blank finding dropped, got %+v", findings)
		}
	})

	t.Run("garbage rejected", func(t *testing.T) {
		if _, err := ParseFindings("certainly!", "openai"); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(ModeSecurity, "diff --git a/x b/x")
	for _, want := range []string{"security", "diff --git a/x b/x", "JSON array", "severity"} {
		if !strings.Contains(strings.ToLower(prompt), strings.ToLower(want)) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestFindingID(t *testing.T) {
	a := Finding{File: "a.go", Line: 3, Category: "security", Description: "x"}
	b := Finding{File: "a.go", Line: 3, Category: "security", Description: "x", Provider: "other", Severity: "high"}
	if a.ID() != b.ID() {
		t.Error("identity must ignore provider and severity")
	}
	c := Finding{File: "a.go", Line: 4, Category: "security", Description: "x"}
	if a.ID() == c.ID() {
		t.Error("different locations must differ")
	}
}

func TestCost(t *testing.T) {
	got := Cost("gpt-4o", 1_000_000, 1_000_000)
	if got != 12.50 {
		t.Errorf("expected 12.50, got %f", got)
	}
	if Cost("unknown-model", 1000, 1000) != 0 {
		t.Error("unknown model must cost zero")
	}
}
