package model

import (
	"context"

	"github.com/stupiduntilnot/agent0/internal/transcript"
)

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Provider is the chat transport used by the driver loop.
type Provider interface {
	ChatCompletion(ctx context.Context, messages []transcript.Message) (CompletionResponse, error)
}
