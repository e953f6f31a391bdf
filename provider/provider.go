package provider

import (
	"context"
	"errors"

	"github.com/chatvault/chatvault/config"
	openai_provider "github.com/chatvault/chatvault/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
)

// Provider is the interface that all LLM implementations must satisfy.
type Provider interface {
	// Generate produces a completion for a system+user prompt pair.
	Generate(ctx context.Context, system, prompt string) (string, error)
	// CreateEmbedding generates embedding vectors for the given texts.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates a new LLM client based on the provided configuration.
func NewProvider(client Client, cfg config.OpenAIConfig) (Provider, error) {
	switch client {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("providers.openai.api_key not set")
		}
		return openai_provider.NewOpenAIClient(cfg), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
