// Package openai wraps the OpenAI SDK as an intel.Provider.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/vrushitpatel/repoauditor/collab"
	"github.com/vrushitpatel/repoauditor/collab/intel"
)

// DefaultModel is the default chat model for analysis calls.
const DefaultModel = "gpt-4o"

// Provider analyzes code through the OpenAI chat completions API.
type Provider struct {
	client *openai.Client
	model  string
}

// New creates a Provider. An empty model falls back to DefaultModel.
func New(apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key required")
	}
	if model == "" {
		model = DefaultModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: &client, model: model}, nil
}

// Name implements intel.Provider.
func (p *Provider) Name() string { return "openai" }

// Analyze implements intel.Provider.
func (p *Provider) Analyze(ctx context.Context, content string, mode intel.Mode) (intel.Analysis, error) {
	if content == "" {
		return intel.Analysis{Model: p.model}, nil
	}

	prompt := intel.BuildPrompt(mode, content)
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
	})
	if err != nil {
		return intel.Analysis{}, intel.TranslateError("openai.analyze", err)
	}

	var text string
	if len(completion.Choices) > 0 {
		text = completion.Choices[0].Message.Content
	}

	findings, err := intel.ParseFindings(text, p.Name())
	if err != nil {
		return intel.Analysis{}, collab.PermanentError("openai.parse", err)
	}

	tokensIn := completion.Usage.PromptTokens
	tokensOut := completion.Usage.CompletionTokens
	return intel.Analysis{
		Findings:  findings,
		Model:     p.model,
		CostUSD:   intel.Cost(p.model, tokensIn, tokensOut),
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
	}, nil
}
