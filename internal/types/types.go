package types

import (
	"context"

	"github.com/xhad/moviesearch/internal/models"
)

// Core interfaces
type Embedder interface {
	Embed(ctx context.Context, text string) (models.Embedding, error)
}

type VectorStore interface {
	AddAll(ctx context.Context, embeddings []models.Embedding, segments []models.TextSegment) error
	Refresh(ctx context.Context) error
	Search(ctx context.Context, req SearchRequest) ([]models.QueryResult, error)
	Close()
}

type RecordSource interface {
	Next() (models.Movie, error)
	Skipped() int
	Close() error
}

type SearchRequest struct {
	Mode       models.SearchMode
	Query      string
	Embedding  models.Embedding
	MaxResults int
}
