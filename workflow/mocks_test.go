package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vrushitpatel/repoauditor/collab"
	"github.com/vrushitpatel/repoauditor/collab/intel"
	"github.com/vrushitpatel/repoauditor/flow"
)

// mockHost is an in-memory CodeHost. Files live in one flat map; branch
// refs are recorded but do not partition content.
type mockHost struct {
	mu sync.Mutex

	change   collab.ChangeContext
	fetchErr error
	postErr  error

	fetches        int
	posted         []string
	branches       map[string]string
	files          map[string][]byte
	writes         []string
	changeRequests []mockChangeRequest
}

type mockChangeRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

func newMockHost(change collab.ChangeContext) *mockHost {
	return &mockHost{
		change:   change,
		branches: make(map[string]string),
		files:    make(map[string][]byte),
	}
}

func (h *mockHost) FetchContext(ctx context.Context, _ string, _ int) (collab.ChangeContext, error) {
	if err := ctx.Err(); err != nil {
		return collab.ChangeContext{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetches++
	if h.fetchErr != nil {
		return collab.ChangeContext{}, h.fetchErr
	}
	return h.change, nil
}

func (h *mockHost) PostResult(ctx context.Context, _ string, _ int, body string) (collab.Ack, error) {
	if err := ctx.Err(); err != nil {
		return collab.Ack{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.postErr != nil {
		return collab.Ack{}, h.postErr
	}
	h.posted = append(h.posted, body)
	return collab.Ack{ID: int64(len(h.posted))}, nil
}

func (h *mockHost) CreateBranch(_ context.Context, _ string, name, baseSHA string) (collab.Ref, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.branches[name] = baseSHA
	return collab.Ref{Name: name, SHA: baseSHA}, nil
}

func (h *mockHost) CreateChangeRequest(_ context.Context, _ string, title, body, head, base string) (collab.Ref, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changeRequests = append(h.changeRequests, mockChangeRequest{Title: title, Body: body, Head: head, Base: base})
	return collab.Ref{Name: head, URL: fmt.Sprintf("https://example.test/pull/%d", len(h.changeRequests))}, nil
}

func (h *mockHost) GetFileContent(_ context.Context, _ string, path string, _ string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.files[path]
	if !ok {
		return nil, collab.PermanentError("get file", fmt.Errorf("%s: not found", path))
	}
	return append([]byte(nil), data...), nil
}

func (h *mockHost) UpdateFile(_ context.Context, _ string, _ string, path string, content []byte, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = append([]byte(nil), content...)
	h.writes = append(h.writes, path)
	return nil
}

func (h *mockHost) postCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.posted)
}

// mockProvider returns canned findings per mode, with optional per-mode
// errors and delays.
type mockProvider struct {
	byMode    map[intel.Mode][]intel.Finding
	errByMode map[intel.Mode]error
	delay     map[intel.Mode]time.Duration
	cost      float64
	tokens    int64

	mu    sync.Mutex
	calls int
}

func (p *mockProvider) Analyze(ctx context.Context, _ string, mode intel.Mode) (intel.Analysis, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if d := p.delay[mode]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return intel.Analysis{}, ctx.Err()
		}
	}
	if err := p.errByMode[mode]; err != nil {
		return intel.Analysis{}, err
	}
	return intel.Analysis{
		Findings:  append([]intel.Finding(nil), p.byMode[mode]...),
		Model:     "mock",
		CostUSD:   p.cost,
		TokensIn:  p.tokens,
		TokensOut: p.tokens,
	}, nil
}

func (p *mockProvider) Name() string { return "mock" }

func (p *mockProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// mockTests is a canned TestRunner.
type mockTests struct {
	result TestResult
	err    error

	mu   sync.Mutex
	runs []string
}

func (t *mockTests) RunTests(_ context.Context, _ string, ref string) (TestResult, error) {
	t.mu.Lock()
	t.runs = append(t.runs, ref)
	t.mu.Unlock()
	if t.err != nil {
		return TestResult{}, t.err
	}
	return t.result, nil
}

// mockAdmission answers with a fixed decision and counts checks.
type mockAdmission struct {
	decision collab.Decision
	err      error

	mu     sync.Mutex
	checks int
}

func (a *mockAdmission) CheckAndRecord(_ context.Context, _ collab.Subject) (collab.Decision, error) {
	a.mu.Lock()
	a.checks++
	a.mu.Unlock()
	if a.err != nil {
		return collab.Decision{}, a.err
	}
	return a.decision, nil
}

func testChange(diff string) collab.ChangeContext {
	return collab.ChangeContext{
		Repository: "acme/site",
		RequestID:  7,
		Title:      "Add login form",
		Author:     "dev",
		Diff:       diff,
		HeadSHA:    "abc123",
		BaseRef:    "main",
	}
}

func testTrigger() Trigger {
	return Trigger{Repository: "acme/site", RequestID: 7, Actor: "dev"}
}

// fastRetry keeps collaborator retries from slowing tests down.
func fastRetry() *flow.RetryPolicy {
	return &flow.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Retryable:   collab.IsTransient,
	}
}
