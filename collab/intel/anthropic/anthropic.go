// Package anthropic wraps the Anthropic SDK as an intel.Provider.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vrushitpatel/repoauditor/collab"
	"github.com/vrushitpatel/repoauditor/collab/intel"
)

// DefaultModel balances capability against spend for diff-sized inputs.
const DefaultModel = "claude-3-5-sonnet-20241022"

const maxTokens = 4096

// Provider analyzes code through Claude. Safe for concurrent use after
// creation; the SDK client handles concurrent requests.
type Provider struct {
	client *anthropic.Client
	model  string
}

// New creates a Provider. An empty model falls back to DefaultModel.
func New(apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key required")
	}
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: &client, model: model}, nil
}

// Name implements intel.Provider.
func (p *Provider) Name() string { return "anthropic" }

// Analyze implements intel.Provider.
func (p *Provider) Analyze(ctx context.Context, content string, mode intel.Mode) (intel.Analysis, error) {
	if content == "" {
		return intel.Analysis{Model: p.model}, nil
	}

	prompt := intel.BuildPrompt(mode, content)
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return intel.Analysis{}, intel.TranslateError("anthropic.analyze", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	findings, err := intel.ParseFindings(text, p.Name())
	if err != nil {
		return intel.Analysis{}, collab.PermanentError("anthropic.parse", err)
	}

	tokensIn := message.Usage.InputTokens
	tokensOut := message.Usage.OutputTokens
	return intel.Analysis{
		Findings:  findings,
		Model:     p.model,
		CostUSD:   intel.Cost(p.model, tokensIn, tokensOut),
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
	}, nil
}
