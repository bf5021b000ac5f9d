package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/aibots/internal/types"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderFake   = "fake"
)

// ChatConfig represents the configuration for a completion provider.
type ChatConfig struct {
	Provider  string
	APIKey    string
	BaseURL   string // OpenAI-compatible or Ollama server URL
	Model     string
	MaxTokens int
}

func (c ChatConfig) withDefaults() ChatConfig {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" {
		switch c.Provider {
		case ProviderOllama:
			c.Model = "mistral" // Default Ollama model
		default:
			c.Model = "gpt-4o-mini"
		}
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.BaseURL == "" && c.Provider == ProviderOllama {
		c.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	return c
}

// NewChatModel creates the completion model selected by config.Provider.
// Constructing a model performs no network I/O.
func NewChatModel(config ChatConfig) (llms.Model, error) {
	config = config.withDefaults()
	if config.MaxTokens < 0 {
		return nil, types.Configurationf("max tokens cannot be negative")
	}

	switch config.Provider {
	case ProviderOpenAI:
		if config.APIKey == "" {
			return nil, types.Configurationf("OPENAI_API_KEY is required")
		}
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithModel(config.Model),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return model, nil
	case ProviderOllama:
		model, err := ollama.New(ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return model, nil
	case ProviderFake:
		return NewFakeLLM(), nil
	default:
		return nil, types.Configurationf("unknown completion provider %q", config.Provider)
	}
}
