package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// MemoryStore keeps vectors in process memory and searches by brute force.
type MemoryStore struct {
	embedder embeddings.Embedder

	mu        sync.RWMutex
	dimension int
	index     map[string]int
	ids       []string
	docs      []schema.Document
	vectors   [][]float32
}

var _ VectorStore = (*MemoryStore)(nil)

func NewMemory(embedder embeddings.Embedder) *MemoryStore {
	return &MemoryStore{
		embedder: embedder,
		index:    make(map[string]int),
	}
}

func (s *MemoryStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	opts := searchOptions(options)
	vectors, err := embedDocuments(ctx, pickEmbedder(s.embedder, opts), docs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dimension := s.dimension
	for _, vec := range vectors {
		if dimension == 0 {
			dimension = len(vec)
		}
		if len(vec) != dimension || dimension == 0 {
			return nil, fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), dimension)
		}
	}
	s.dimension = dimension

	ids := make([]string, len(docs))
	for i, doc := range docs {
		id := chunkID(doc)
		ids[i] = id
		stored := schema.Document{PageContent: doc.PageContent, Metadata: copyMetadata(doc.Metadata)}
		vec := append([]float32(nil), vectors[i]...)
		if at, ok := s.index[id]; ok {
			s.docs[at] = stored
			s.vectors[at] = vec
			continue
		}
		s.index[id] = len(s.ids)
		s.ids = append(s.ids, id)
		s.docs = append(s.docs, stored)
		s.vectors = append(s.vectors, vec)
	}
	return ids, nil
}

func (s *MemoryStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := searchOptions(options)
	vec, err := embedQuery(ctx, pickEmbedder(s.embedder, opts), query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if numDocuments <= 0 || len(s.docs) == 0 {
		return nil, nil
	}
	if len(vec) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vec), s.dimension)
	}

	results := make([]schema.Document, 0, len(s.docs))
	for i, doc := range s.docs {
		score := cosine(vec, s.vectors[i])
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		results = append(results, schema.Document{
			PageContent: doc.PageContent,
			Metadata:    copyMetadata(doc.Metadata),
			Score:       score,
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if numDocuments < len(results) {
		results = results[:numDocuments]
	}
	return results, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
