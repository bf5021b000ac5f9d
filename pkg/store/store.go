// Package store holds the vector store backends. Every backend embeds chunks
// with its embedder on insert, keeps a single vector dimensionality, upserts
// by chunk id and ranks by cosine similarity.
package store

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/xhad/aibots/internal/models"
	"github.com/xhad/aibots/internal/types"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPGVector = "pgvector"
)

// VectorStore is a langchaingo vector store the caller must Close.
type VectorStore interface {
	vectorstores.VectorStore
	Count(ctx context.Context) (int, error)
	Close() error
}

type Config struct {
	Backend     string
	DatabaseURL string
	TableName   string
	VectorDim   int
	BatchSize   int
}

// Open returns the backend selected by config. A non-empty persistDir selects
// the sqlite backend unless the backend is pgvector, which is durable anyway.
func Open(ctx context.Context, config Config, persistDir string, embedder embeddings.Embedder) (VectorStore, error) {
	if embedder == nil {
		return nil, types.Configurationf("vector store needs an embedder")
	}

	switch {
	case config.Backend == BackendPGVector:
		return NewPGVector(ctx, PGConfig{
			ConnString: config.DatabaseURL,
			TableName:  config.TableName,
			VectorDim:  config.VectorDim,
			BatchSize:  config.BatchSize,
		}, embedder)
	case persistDir != "":
		return OpenSQLite(persistDir, embedder)
	case config.Backend == BackendSQLite:
		return nil, types.Configurationf("sqlite backend requires a persist directory")
	case config.Backend == BackendMemory || config.Backend == "":
		return NewMemory(embedder), nil
	default:
		return nil, types.Configurationf("unknown vector store backend %q", config.Backend)
	}
}

func searchOptions(options []vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{}
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

func pickEmbedder(fallback embeddings.Embedder, opts vectorstores.Options) embeddings.Embedder {
	if opts.Embedder != nil {
		return opts.Embedder
	}
	return fallback
}

func embedDocuments(ctx context.Context, embedder embeddings.Embedder, docs []schema.Document) ([][]float32, error) {
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, types.NewProviderError("embed", err)
	}
	if len(vectors) != len(docs) {
		return nil, &types.ProviderError{
			Op:  "embed",
			Err: fmt.Errorf("got %d vectors for %d documents", len(vectors), len(docs)),
		}
	}
	return vectors, nil
}

func embedQuery(ctx context.Context, embedder embeddings.Embedder, query string) ([]float32, error) {
	vec, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, types.NewProviderError("embed query", err)
	}
	return vec, nil
}

// chunkID derives a stable id so re-ingesting the same chunk overwrites it.
func chunkID(doc schema.Document) string {
	docID, _ := doc.Metadata["document_id"].(string)
	index := 0
	if raw, ok := doc.Metadata["chunk_index"].(string); ok {
		index, _ = strconv.Atoi(raw)
	}
	return models.ChunkID(docID, index, doc.PageContent)
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func copyMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}
