package providers

import "context"

type ChatRequest struct {
	Model      string
	UserPrompt string
	MaxTokens  int
}

type ChatResponse struct {
	Text string
}

// Provider performs one non-streaming completion round-trip.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// ModelLister is implemented by providers whose valid models are only known at runtime.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}
