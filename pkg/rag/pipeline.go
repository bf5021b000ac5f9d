// Package rag wires the splitter, embedder, vector store and completion model
// into the retrieval-augmented answering pipeline.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"go.uber.org/zap"

	"github.com/xhad/aibots/internal/models"
	"github.com/xhad/aibots/internal/types"
	"github.com/xhad/aibots/pkg/llm"
	"github.com/xhad/aibots/pkg/processor"
	"github.com/xhad/aibots/pkg/store"
)

const (
	DefaultTopK      = 4
	defaultBatchSize = 100
)

const answerPrompt = `Answer the question using only the provided context. If the context does not contain the answer, say that you don't know.

Context:
{{.context}}

Question: {{.question}}
Answer:`

type Option func(*Pipeline)

// WithProgress reports inserted chunks while a vector store is built.
func WithProgress(fn func(done, total int)) Option {
	return func(p *Pipeline) {
		p.progress = fn
	}
}

type Pipeline struct {
	processor   *processor.Processor
	storeConfig store.Config
	logger      *zap.Logger
	progress    func(done, total int)
}

func New(proc *processor.Processor, storeConfig store.Config, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		processor:   proc,
		storeConfig: storeConfig,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BuildVectorStore splits docs, embeds the chunks and inserts them into a
// store. A non-empty persistPath makes the store durable in that directory.
// The caller owns the returned store.
func (p *Pipeline) BuildVectorStore(ctx context.Context, docs []models.Document, embedConfig llm.EmbedderConfig, persistPath string) (store.VectorStore, error) {
	p.logger.Info("build_vector_store.start",
		zap.Bool("persist", persistPath != ""),
		zap.Int("documents", len(docs)))
	start := time.Now()

	embedder, err := llm.NewEmbedder(embedConfig)
	if err != nil {
		return nil, err
	}

	chunks, err := p.processor.Process(docs)
	if err != nil {
		return nil, err
	}

	vs, err := store.Open(ctx, p.storeConfig, persistPath, embedder)
	if err != nil {
		return nil, err
	}

	if err := p.insert(ctx, vs, chunks); err != nil {
		_ = vs.Close()
		return nil, err
	}

	p.logger.Info("build_vector_store.success",
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(start)))
	return vs, nil
}

func (p *Pipeline) insert(ctx context.Context, vs store.VectorStore, chunks []schema.Document) error {
	batchSize := p.storeConfig.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	for i := 0; i < len(chunks); i += batchSize {
		end := min(i+batchSize, len(chunks))
		if _, err := vs.AddDocuments(ctx, chunks[i:end]); err != nil {
			return fmt.Errorf("failed to store batch: %w", err)
		}
		if p.progress != nil {
			p.progress(end, len(chunks))
		}
	}
	return nil
}

// OpenVectorStore reopens a store previously built with a persist path, or
// the configured pgvector table.
func (p *Pipeline) OpenVectorStore(ctx context.Context, embedConfig llm.EmbedderConfig, persistPath string) (store.VectorStore, error) {
	if persistPath == "" && p.storeConfig.Backend != store.BackendPGVector {
		return nil, types.Configurationf("a persist directory is required to reopen a vector store")
	}

	embedder, err := llm.NewEmbedder(embedConfig)
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, p.storeConfig, persistPath, embedder)
}

// BuildAnswerChain binds a top-k retriever over vs to the completion model.
// It performs no I/O.
func (p *Pipeline) BuildAnswerChain(vs vectorstores.VectorStore, chatConfig llm.ChatConfig, topK int, opts ...vectorstores.Option) (*Chain, error) {
	if vs == nil {
		return nil, types.Configurationf("answer chain needs a vector store")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	model, err := llm.NewChatModel(chatConfig)
	if err != nil {
		return nil, err
	}

	prompt := prompts.NewPromptTemplate(answerPrompt, []string{"context", "question"})
	retriever := vectorstores.ToRetriever(vs, topK, opts...)
	qa := chains.NewRetrievalQA(
		chains.NewStuffDocuments(chains.NewLLMChain(model, prompt)),
		retriever,
	)

	return &Chain{
		qa:        qa,
		retriever: retriever,
		maxTokens: chatConfig.MaxTokens,
		logger:    p.logger,
	}, nil
}

// Chain answers questions from the documents in one vector store. It is safe
// for concurrent use.
type Chain struct {
	qa        chains.RetrievalQA
	retriever vectorstores.Retriever
	maxTokens int
	logger    *zap.Logger
}

var _ types.Answerer = (*Chain)(nil)

// Ask retrieves the top-k chunks for query and asks the model to answer from
// them at temperature 0. Provider failures are returned as *types.ProviderError
// and are not retried.
func (c *Chain) Ask(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("%w: query must not be empty", types.ErrInput)
	}

	c.logger.Info("qa.ask.start", zap.String("query", query))

	options := []chains.ChainCallOption{chains.WithTemperature(0)}
	if c.maxTokens > 0 {
		options = append(options, chains.WithMaxTokens(c.maxTokens))
	}

	out, err := chains.Call(ctx, c.qa, map[string]any{"query": query}, options...)
	if err != nil {
		c.logger.Error("qa.ask.failed", zap.Error(err))
		return "", types.NewProviderError("complete", err)
	}

	answer := Extract(Structured(out))
	c.logger.Info("qa.ask.success", zap.Int("answer_length", len(answer)))
	return answer, nil
}

// Retrieve returns the chunks Ask would put in the prompt for query.
func (c *Chain) Retrieve(ctx context.Context, query string) ([]schema.Document, error) {
	docs, err := c.retriever.GetRelevantDocuments(ctx, query)
	if err != nil {
		return nil, types.NewProviderError("retrieve", err)
	}
	return docs, nil
}
