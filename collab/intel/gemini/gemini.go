// Package gemini wraps the Google generative AI SDK as an intel.Provider.
package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/vrushitpatel/repoauditor/collab"
	"github.com/vrushitpatel/repoauditor/collab/intel"
)

// DefaultModel is the default Gemini model for analysis calls.
const DefaultModel = "gemini-1.5-pro"

// Provider analyzes code through Gemini. Close releases the underlying
// gRPC client when the provider is no longer needed.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Provider. An empty model falls back to DefaultModel.
func New(ctx context.Context, apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Name implements intel.Provider.
func (p *Provider) Name() string { return "gemini" }

// Analyze implements intel.Provider.
func (p *Provider) Analyze(ctx context.Context, content string, mode intel.Mode) (intel.Analysis, error) {
	if content == "" {
		return intel.Analysis{Model: p.model}, nil
	}

	model := p.client.GenerativeModel(p.model)
	model.ResponseMIMEType = "application/json"

	prompt := intel.BuildPrompt(mode, content)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return intel.Analysis{}, intel.TranslateError("gemini.analyze", err)
	}

	var text string
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}

	findings, err := intel.ParseFindings(text, p.Name())
	if err != nil {
		return intel.Analysis{}, collab.PermanentError("gemini.parse", err)
	}

	var tokensIn, tokensOut int64
	if resp.UsageMetadata != nil {
		tokensIn = int64(resp.UsageMetadata.PromptTokenCount)
		tokensOut = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return intel.Analysis{
		Findings:  findings,
		Model:     p.model,
		CostUSD:   intel.Cost(p.model, tokensIn, tokensOut),
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
	}, nil
}
