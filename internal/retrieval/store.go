package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

const defaultMinSimilarity = 0.2

// PGVectorStore searches assistant.knowledge_chunks. Every query is filtered
// by index_id, which is the only isolation between tenants' knowledge.
type PGVectorStore struct {
	db            *sql.DB
	minSimilarity float64
}

func NewPGVectorStore(db *sql.DB, minSimilarity float64) *PGVectorStore {
	if minSimilarity <= 0 {
		minSimilarity = defaultMinSimilarity
	}
	return &PGVectorStore{db: db, minSimilarity: minSimilarity}
}

func (s *PGVectorStore) Search(ctx context.Context, indexID string, embedding []float32, k int) ([]Passage, error) {
	if indexID == "" {
		return nil, ErrNoIndex
	}
	if len(embedding) == 0 {
		return nil, errors.New("embedding is required")
	}
	if k <= 0 {
		k = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT title,
			source_kind,
			source_uri,
			body,
			1 - (embedding <=> $2) AS similarity
		FROM assistant.knowledge_chunks
		WHERE index_id = $1
		  AND 1 - (embedding <=> $2) >= $4
		ORDER BY embedding <=> $2
		LIMIT $3
	`, indexID, pgvector.NewVector(embedding), k, s.minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var passages []Passage
	for rows.Next() {
		var p Passage
		var kind string
		if err := rows.Scan(&p.Title, &kind, &p.SourceURI, &p.Body, &p.Score); err != nil {
			return nil, fmt.Errorf("scan knowledge chunk: %w", err)
		}
		p.SourceKind = SourceKind(kind)
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge chunks: %w", err)
	}
	return passages, nil
}
