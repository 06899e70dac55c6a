package intel

import (
	"context"
	"sync/atomic"
)

// Static is an in-memory Provider returning canned findings per mode.
// Used in tests and local dry runs where no vendor should be called.
type Static struct {
	ByMode      map[Mode][]Finding
	CostPerCall float64
	TokensIn    int64
	TokensOut   int64
	Err         error

	calls atomic.Int64
}

// Analyze returns the canned findings for mode, or the configured error.
func (s *Static) Analyze(_ context.Context, _ string, mode Mode) (Analysis, error) {
	s.calls.Add(1)
	if s.Err != nil {
		return Analysis{}, s.Err
	}

	findings := append([]Finding(nil), s.ByMode[mode]...)
	for i := range findings {
		findings[i].Provider = s.Name()
	}
	return Analysis{
		Findings:  findings,
		Model:     "static",
		CostUSD:   s.CostPerCall,
		TokensIn:  s.TokensIn,
		TokensOut: s.TokensOut,
	}, nil
}

// Name implements Provider.
func (s *Static) Name() string { return "static" }

// Calls reports how many times Analyze ran.
func (s *Static) Calls() int64 { return s.calls.Load() }
