package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xhad/aibots/internal/types"
)

// EmbedderConfig represents the configuration for an embedding provider.
type EmbedderConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	BatchSize   int
	Concurrency int
	RateLimit   float64 // requests per second, 0 disables limiting
	Dimensions  int     // fake provider only
}

func (c EmbedderConfig) withDefaults() EmbedderConfig {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" {
		switch c.Provider {
		case ProviderOllama:
			c.Model = "nomic-embed-text:latest"
		case ProviderOpenAI:
			c.Model = "text-embedding-3-small"
		}
	}
	if c.BaseURL == "" && c.Provider == ProviderOllama {
		c.BaseURL = "http://localhost:11434"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// NewEmbedder creates the embedding provider selected by config.Provider,
// wrapped in a RateLimitedEmbedder.
func NewEmbedder(config EmbedderConfig) (*RateLimitedEmbedder, error) {
	config = config.withDefaults()

	var inner embeddings.Embedder
	switch config.Provider {
	case ProviderOpenAI:
		if config.APIKey == "" {
			return nil, types.Configurationf("OPENAI_API_KEY is required")
		}
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithEmbeddingModel(config.Model),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		inner, err = embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	case ProviderOllama:
		client, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		inner, err = embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	case ProviderFake:
		inner = NewFakeEmbedder(config.Dimensions)
	default:
		return nil, types.Configurationf("unknown embedding provider %q", config.Provider)
	}

	return NewRateLimitedEmbedder(inner, config), nil
}

// RateLimitedEmbedder batches texts, embeds batches on a bounded pool of
// goroutines and waits on a shared limiter before every provider call.
// Failures are reported as *types.ProviderError and never retried.
type RateLimitedEmbedder struct {
	embedder    embeddings.Embedder
	limiter     *rate.Limiter
	batchSize   int
	concurrency int
}

var _ embeddings.Embedder = (*RateLimitedEmbedder)(nil)

func NewRateLimitedEmbedder(embedder embeddings.Embedder, config EmbedderConfig) *RateLimitedEmbedder {
	config = config.withDefaults()
	e := &RateLimitedEmbedder{
		embedder:    embedder,
		batchSize:   config.BatchSize,
		concurrency: config.Concurrency,
	}
	if config.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return e
}

func (e *RateLimitedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for start := 0; start < len(texts); start += e.batchSize {
		start := start
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			if err := e.wait(gctx); err != nil {
				return err
			}
			out, err := e.embedder.EmbedDocuments(gctx, texts[start:end])
			if err != nil {
				return types.NewProviderError("embed", err)
			}
			if len(out) != end-start {
				return &types.ProviderError{
					Op:  "embed",
					Err: fmt.Errorf("got %d vectors for %d texts", len(out), end-start),
				}
			}
			copy(vectors[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return vectors, nil
}

func (e *RateLimitedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, types.NewProviderError("embed query", err)
	}
	return vec, nil
}

func (e *RateLimitedEmbedder) wait(ctx context.Context) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	return nil
}
