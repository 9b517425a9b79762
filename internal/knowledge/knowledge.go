// Package knowledge provides similarity search over curriculum passages
// using PostgreSQL with pgvector.
//
// Search results are returned in ascending distance order on the store's
// native L2 scale; thresholding is the caller's concern. Document
// ingestion itself is owned by the surrounding content pipeline; Add is
// its entry point.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/thinkabit/questy/internal/log"
)

// searchTimeout bounds the embedding call plus the vector query.
const searchTimeout = 10 * time.Second

// defaultTopK is the result count when the caller asks for none.
const defaultTopK = 5

// Document is one retrievable passage.
type Document struct {
	ID      string
	Content string
	Source  string
}

// Result is one search hit with its distance to the query.
// Lower distance means more similar.
type Result struct {
	Content  string
	Source   string
	Distance float32
}

// Store performs vector similarity search over the documents table.
// Store is safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   log.Logger
}

// New creates a knowledge store using the given pool and embedder.
func New(pool *pgxpool.Pool, embedder ai.Embedder, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}
}

// Add upserts a document, embedding its content.
func (s *Store) Add(ctx context.Context, doc Document) error {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (id, content, source, embedding) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET content = $2, source = $3, embedding = $4`,
		doc.ID, doc.Content, doc.Source, embedding,
	)
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("added document", "id", doc.ID, "content_length", len(doc.Content))
	return nil
}

// Search returns the topK most similar documents to the query, ascending
// by distance. topK <= 0 uses the default.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	if topK <= 0 {
		topK = defaultTopK
	}

	embedding, err := s.embed(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding generation timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT content, source, embedding <-> $1 AS distance
		 FROM documents ORDER BY distance ASC LIMIT $2`,
		embedding, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Content, &r.Source, &r.Distance); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}

	s.logger.Debug("vector search completed", "query_length", len(query), "results", len(results))
	return results, nil
}

func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, errors.New("empty embedding returned")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}
