package retriever

import (
	"context"
	"errors"
	"fmt"

	"github.com/xhad/moviesearch/internal/models"
	"github.com/xhad/moviesearch/internal/types"
)

type RetrieverConfig struct {
	Mode       models.SearchMode
	MaxResults int
}

// Retriever answers free-text queries against the index in one fixed mode.
type Retriever struct {
	config   RetrieverConfig
	embedder types.Embedder
	store    types.VectorStore
}

func NewWithConfig(config RetrieverConfig, embedder types.Embedder, store types.VectorStore) (*Retriever, error) {
	if config.Mode == "" {
		config.Mode = models.ModeVector
	}
	if _, err := models.ParseSearchMode(string(config.Mode)); err != nil {
		return nil, err
	}
	if config.MaxResults < 0 {
		return nil, errors.New("max results cannot be negative")
	} else if config.MaxResults == 0 {
		config.MaxResults = 3
	}
	if embedder == nil || store == nil {
		return nil, errors.New("retriever needs an embedder and a store")
	}

	return &Retriever{
		config:   config,
		embedder: embedder,
		store:    store,
	}, nil
}

func (r *Retriever) Mode() models.SearchMode {
	return r.config.Mode
}

// Retrieve embeds the query and returns at most MaxResults matches, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]models.QueryResult, error) {
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.store.Search(ctx, types.SearchRequest{
		Mode:       r.config.Mode,
		Query:      query,
		Embedding:  embedding,
		MaxResults: r.config.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("%s search failed: %w", r.config.Mode, err)
	}

	if len(results) > r.config.MaxResults {
		results = results[:r.config.MaxResults]
	}
	return results, nil
}
