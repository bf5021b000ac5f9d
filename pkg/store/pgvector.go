package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/xhad/aibots/internal/types"
)

type PGConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
}

// PGVectorStore keeps chunks in a Postgres table with a pgvector column.
type PGVectorStore struct {
	config   PGConfig
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
}

var _ VectorStore = (*PGVectorStore)(nil)

func NewPGVector(ctx context.Context, config PGConfig, embedder embeddings.Embedder) (*PGVectorStore, error) {
	if config.ConnString == "" {
		return nil, types.Configurationf("pgvector backend requires a database URL")
	}
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if !validIdentifier(config.TableName) {
		return nil, types.Configurationf("invalid table name %q", config.TableName)
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1536 // Default for OpenAI embeddings
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PGVectorStore{
		config:   config,
		pool:     pool,
		embedder: embedder,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PGVectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

func (vs *PGVectorStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	opts := searchOptions(options)
	vectors, err := embedDocuments(ctx, pickEmbedder(vs.embedder, opts), docs)
	if err != nil {
		return nil, err
	}
	for _, vec := range vectors {
		if len(vec) != vs.config.VectorDim {
			return nil, fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), vs.config.VectorDim)
		}
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.config.TableName)

	ids := make([]string, len(docs))
	for start := 0; start < len(docs); start += vs.config.BatchSize {
		end := min(start+vs.config.BatchSize, len(docs))

		tx, err := vs.pool.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}

		for i := start; i < end; i++ {
			ids[i] = chunkID(docs[i])
			_, err = tx.Exec(ctx, stmt,
				ids[i],
				sanitizeUTF8(docs[i].PageContent),
				pgvector.NewVector(vectors[i]),
				docs[i].Metadata,
			)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, fmt.Errorf("failed to insert document: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
	}

	return ids, nil
}

func (vs *PGVectorStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	if numDocuments <= 0 {
		return nil, nil
	}
	opts := searchOptions(options)
	vec, err := embedQuery(ctx, pickEmbedder(vs.embedder, opts), query)
	if err != nil {
		return nil, err
	}
	if len(vec) != vs.config.VectorDim {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vec), vs.config.VectorDim)
	}

	sql := fmt.Sprintf(`
		SELECT content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.config.TableName)

	threshold := float64(-1)
	if opts.ScoreThreshold > 0 {
		threshold = float64(opts.ScoreThreshold)
	}

	rows, err := vs.pool.Query(ctx, sql, pgvector.NewVector(vec), numDocuments, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []schema.Document
	for rows.Next() {
		var (
			doc   schema.Document
			score float64
		)
		if err := rows.Scan(&doc.PageContent, &doc.Metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		doc.Score = float32(score)
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

func (vs *PGVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := vs.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", vs.config.TableName)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func (vs *PGVectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}
