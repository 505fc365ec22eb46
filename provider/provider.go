package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/partyplanner/config"
	"github.com/mohammad-safakhou/partyplanner/internal/gateway"
	openai_provider "github.com/mohammad-safakhou/partyplanner/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy. It is
// a gateway.Backend and serves the embeddings endpoint.
type Provider interface {
	Chat(ctx context.Context, messages []gateway.Message) (string, error)
	CreateEmbedding(ctx context.Context, texts []string, dimensions int) ([][]float32, error)
}

type openAIClient interface {
	Chat(ctx context.Context, messages []openai_provider.Message) (string, error)
	CreateEmbedding(ctx context.Context, texts []string, dimensions int) ([][]float32, error)
}

// openAIProvider adapts the OpenAI client to gateway messages.
type openAIProvider struct {
	client openAIClient
}

func (p *openAIProvider) Chat(ctx context.Context, messages []gateway.Message) (string, error) {
	converted := make([]openai_provider.Message, len(messages))
	for i, m := range messages {
		converted[i] = openai_provider.Message{Role: m.Role, Content: m.Content}
	}
	return p.client.Chat(ctx, converted)
}

func (p *openAIProvider) CreateEmbedding(ctx context.Context, texts []string, dimensions int) ([][]float32, error) {
	return p.client.CreateEmbedding(ctx, texts, dimensions)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(strings.ToLower(strings.TrimSpace(cfg.Provider))) {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("llm.api_key (or OPENAI_API_KEY) not set")
		}
		return &openAIProvider{client: openai_provider.NewOpenAIClient(
			cfg.APIKey,
			cfg.BaseURL,
			cfg.Model,
			cfg.EmbeddingModel,
			cfg.Temperature,
			cfg.MaxTokens,
			cfg.Timeout,
		)}, nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}
