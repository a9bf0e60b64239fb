// Package summarizer implements the Summarize stage's external collaborator
// (spec §4.G stage 5): a single-shot call to an LLM that turns a truncated,
// redacted transcript view into a short human-readable summary.
package summarizer

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const systemPrompt = "Summarize this Claude Code session in 2-3 sentences: what the user asked for, what changed, and the outcome. Be concise and factual."

// MessagesClient captures the subset of the Anthropic SDK client this
// package uses, so tests can substitute a fake (grounded on goa-ai's
// features/model/anthropic.MessagesClient interface).
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Summarizer calls an Anthropic model to produce a session summary,
// satisfying transcript.Summarizer.
type Summarizer struct {
	msg       MessagesClient
	model     string
	maxTokens int64
}

// New builds a Summarizer bound to msg. model should be an
// anthropic-sdk-go model identifier (e.g. "claude-haiku-4-5").
func New(msg MessagesClient, model string) (*Summarizer, error) {
	if msg == nil {
		return nil, errors.New("summarizer: anthropic client is required")
	}
	if model == "" {
		return nil, errors.New("summarizer: model identifier is required")
	}
	return &Summarizer{msg: msg, model: model, maxTokens: 512}, nil
}

// NewFromAPIKey builds a Summarizer using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, model string) (*Summarizer, error) {
	if apiKey == "" {
		return nil, errors.New("summarizer: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, model)
}

// Summarize sends transcript (already truncated/redacted by the caller) to
// the model and returns its summary text.
func (s *Summarizer) Summarize(ctx context.Context, sessionID, transcript string) (string, error) {
	if transcript == "" {
		return "", fmt.Errorf("summarizer: empty transcript for session %s", sessionID)
	}

	msg, err := s.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(s.model),
		MaxTokens: s.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(transcript)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarizing session %s: %w", sessionID, err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			if text != "" {
				text += " "
			}
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("summarizing session %s: model returned no text content", sessionID)
	}
	return text, nil
}
