package compress

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// TextGenerator is the injectable summary-generation capability. The
// compressor's correctness never depends on it being available or
// fast: any failure falls back to keyword extraction.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrGenerationFailed indicates the text-generation call failed.
var ErrGenerationFailed = errors.New("summary generation failed")

// AnthropicGenerator generates summaries with Claude's streaming API.
type AnthropicGenerator struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicGenerator creates a generator using the given client and
// model. A cheaper model is recommended for summarization.
func NewAnthropicGenerator(client *anthropic.Client, model string, maxTokens int) *AnthropicGenerator {
	return &AnthropicGenerator{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Generate streams a summary completion and accumulates it.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("%w: no client configured", ErrGenerationFailed)
	}

	stream := g.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(g.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: summarySystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return "", fmt.Errorf("%w: accumulate: %v", ErrGenerationFailed, err)
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	var out strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(text.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}
	return out.String(), nil
}
