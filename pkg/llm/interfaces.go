package llm

import "context"

// GenerateResponseResult holds a chat completion plus usage stats.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is the chat interface the pipeline depends on. The analysis phases
// receive this interface so tests can inject mocks.
type Client interface {
	// GenerateResponse generates a chat completion for a system + user
	// message pair.
	GenerateResponse(ctx context.Context, prompt, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string
}

// Embedder produces vectors for batches of input strings.
type Embedder interface {
	// CreateEmbeddings returns one vector per input, in input order.
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)

	// GetModel returns the configured embedding model name.
	GetModel() string
}
