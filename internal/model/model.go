package model

import "context"

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the generation client abstraction used by the reply service.
// Generate blocks until the remote call completes or fails.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (CompletionResponse, error)
}
