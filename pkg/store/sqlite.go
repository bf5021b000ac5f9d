package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// SQLiteFile is the database file written inside a persist directory.
const SQLiteFile = "vectors.sqlite"

// SQLiteStore persists chunks and their vectors in a single SQLite file.
// Search loads every vector and ranks in process.
type SQLiteStore struct {
	db       *sql.DB
	embedder embeddings.Embedder
	path     string
}

var _ VectorStore = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the store inside dir. The directory is created
// if it does not exist.
func OpenSQLite(dir string, embedder embeddings.Embedder) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create persist directory: %w", err)
	}
	path := filepath.Join(dir, SQLiteFile)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, embedder: embedder, path: path}, nil
}

// Exists reports whether dir already holds a persisted store.
func Exists(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, SQLiteFile))
	return err == nil && !info.IsDir()
}

func initSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		metadata TEXT,
		embedding TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) dimension(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}) (int, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'dimension'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}

func (s *SQLiteStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	opts := searchOptions(options)
	vectors, err := embedDocuments(ctx, pickEmbedder(s.embedder, opts), docs)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	dimension, err := s.dimension(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to read dimension: %w", err)
	}
	if dimension == 0 {
		dimension = len(vectors[0])
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO store_meta (key, value) VALUES ('dimension', ?)`, strconv.Itoa(dimension),
		); err != nil {
			return nil, fmt.Errorf("failed to record dimension: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, content, metadata, embedding)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, len(docs))
	for i, doc := range docs {
		if len(vectors[i]) != dimension || dimension == 0 {
			return nil, fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), dimension)
		}
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		ids[i] = chunkID(doc)
		if _, err := stmt.ExecContext(ctx,
			ids[i], sanitizeUTF8(doc.PageContent), string(metadataJSON), pgvector.NewVector(vectors[i]),
		); err != nil {
			return nil, fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	if numDocuments <= 0 {
		return nil, nil
	}
	opts := searchOptions(options)
	vec, err := embedQuery(ctx, pickEmbedder(s.embedder, opts), query)
	if err != nil {
		return nil, err
	}

	dimension, err := s.dimension(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("failed to read dimension: %w", err)
	}
	if dimension == 0 {
		return nil, nil
	}
	if len(vec) != dimension {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vec), dimension)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT content, metadata, embedding FROM chunks ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []schema.Document
	for rows.Next() {
		var (
			content      string
			metadataJSON sql.NullString
			embedding    pgvector.Vector
		)
		if err := rows.Scan(&content, &metadataJSON, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		score := cosine(vec, embedding.Slice())
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		doc := schema.Document{PageContent: content, Score: score}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		results = append(results, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if numDocuments < len(results) {
		results = results[:numDocuments]
	}
	return results, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
