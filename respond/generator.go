package respond

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/overx-ai/gentle-man-tg-bot/core"
)

// Generator is the external language-generation capability.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// AnthropicGenerator generates replies through the Anthropic Messages API.
type AnthropicGenerator struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicGenerator creates a generator. model defaults to
// claude-sonnet-4-20250514 and maxTokens to 1024.
func NewAnthropicGenerator(client *anthropic.Client, model string, maxTokens int64) *AnthropicGenerator {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return &AnthropicGenerator{client: client, model: model, maxTokens: maxTokens}
}

func (g *AnthropicGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", mapAPIError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("generate: empty completion")
	}
	return text, nil
}

// mapAPIError folds Anthropic API failures into the core taxonomy so the
// assembler can decide what is retryable.
func mapAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("generate: %w", core.ErrTimeout)
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			return fmt.Errorf("generate: %w", core.ErrRateLimited)
		case apierr.StatusCode >= 500:
			return fmt.Errorf("generate: %w: status %d", core.ErrProviderUnavailable, apierr.StatusCode)
		}
	}
	return fmt.Errorf("generate: %w", err)
}
