package tokens

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
)

// ExactCounter counts tokens using the provider's count-tokens API.
// It is slower than Estimate and should be used only where precision
// matters, such as right before a hard cutoff. After the first API
// failure it degrades to the local estimate for the remainder of its
// lifetime rather than retrying a broken endpoint per call.
type ExactCounter struct {
	client   *anthropic.Client
	fallback bool
}

// NewExactCounter creates an ExactCounter backed by the given client.
// A nil client always uses the local estimate.
func NewExactCounter(client *anthropic.Client) *ExactCounter {
	return &ExactCounter{client: client}
}

// Count returns the exact token count for text under the given model
// family, falling back to Estimate when the API is unavailable.
func (c *ExactCounter) Count(ctx context.Context, text, modelFamily string) int {
	if c.client == nil || c.fallback || text == "" {
		return Estimate(text)
	}

	resp, err := c.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
		Model: anthropic.Model(modelFamily),
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(text),
				},
			},
		},
	})
	if err != nil {
		c.fallback = true
		return Estimate(text)
	}

	return int(resp.InputTokens)
}
