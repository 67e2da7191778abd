package llm

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
)

// NewClientFromConfig builds the chat client selected by configuration.
// "openai" covers any OpenAI-compatible endpoint (vLLM, Ollama, etc.).
func NewClientFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		return NewOpenAIClient(&Config{
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			APIKey:   cfg.APIKey,
		}, logger)
	case "anthropic":
		return NewAnthropicClient(&Config{
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			APIKey:   cfg.APIKey,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// NewEmbedderFromConfig builds the embedding client. Embeddings always go
// through the OpenAI-compatible embeddings API, with chat-endpoint fallback
// when no embedding endpoint is configured.
func NewEmbedderFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (Embedder, error) {
	return NewEmbeddingClient(&Config{
		Endpoint: cfg.EffectiveEmbeddingEndpoint(),
		Model:    cfg.EmbeddingModel,
		APIKey:   cfg.EffectiveEmbeddingAPIKey(),
	}, logger)
}
