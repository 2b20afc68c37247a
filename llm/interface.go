package llm

import "context"

// Generator defines the generation backend operations the orchestrator
// depends on.
type Generator interface {
	// CreateChatCompletion sends a blocking chat completion request.
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// CreateChatCompletionStream sends a streaming chat completion request.
	// The callback is called for each chunk received.
	CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error)
}

// Ensure Client implements Generator.
var _ Generator = (*Client)(nil)
