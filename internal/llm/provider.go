package llm

import "context"

// Provider is the interface all LLM backends must implement.
type Provider interface {
	// Complete sends a completion request and returns the normalized
	// response. Implementations validate the request before any network
	// call and normalize backend-native failures into *Error.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}
