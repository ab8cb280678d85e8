package llmgateway

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/AntoineDubuc/theodore/internal/model"
	"github.com/AntoineDubuc/theodore/pkg/anthropic"
)

// AnthropicProvider adapts pkg/anthropic.Client to the Gateway's Provider
// interface.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
	name   string
}

// NewAnthropicProvider builds a Provider backed by the Anthropic Messages
// API for the given model. name distinguishes this binding in logs when
// more than one Anthropic-backed provider is registered (e.g. primary vs.
// a cheaper fallback model).
func NewAnthropicProvider(client anthropic.Client, modelID, name string) *AnthropicProvider {
	return &AnthropicProvider{client: client, model: modelID, name: name}
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) Call(ctx context.Context, systemPrompt, userPrompt string, opts CallOptions) (string, model.TokenUsage, error) {
	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	req := anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{
			{Role: "user", Content: userPrompt},
		},
		Temperature: opts.Temperature,
	}
	if systemPrompt != "" {
		req.System = []anthropic.SystemBlock{{Text: systemPrompt}}
	}

	resp, err := p.client.CreateMessage(ctx, req)
	if err != nil {
		return "", model.TokenUsage{}, eris.Wrap(err, "llmgateway: anthropic create message")
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	sdkUsage := anthropic.TokenUsage{
		InputTokens:              resp.Usage.InputTokens,
		OutputTokens:             resp.Usage.OutputTokens,
		CacheCreationInputTokens: resp.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     resp.Usage.CacheReadInputTokens,
	}

	usage := model.TokenUsage{
		InputTokens:              sdkUsage.InputTokens,
		OutputTokens:             sdkUsage.OutputTokens,
		CacheCreationInputTokens: sdkUsage.CacheCreationInputTokens,
		CacheReadInputTokens:     sdkUsage.CacheReadInputTokens,
		Cost:                     sdkUsage.EstimateCost(p.model),
	}

	return text, usage, nil
}
