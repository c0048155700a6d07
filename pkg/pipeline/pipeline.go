package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/xhad/moviesearch/internal/metrics"
	"github.com/xhad/moviesearch/internal/models"
	"github.com/xhad/moviesearch/internal/types"
	"github.com/xhad/moviesearch/pkg/processor"
	"github.com/xhad/moviesearch/pkg/retriever"
	"github.com/xhad/moviesearch/pkg/source"
)

type PipelineConfig struct {
	MaxResults int
	Logger     *zap.Logger
	// OnEmbedded is called after each record is embedded.
	OnEmbedded func(done, total int)
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Rows     int // valid rows read
	Skipped  int // malformed rows dropped
	Embedded int // units written to the index
}

// Pipeline runs load, embed, write and refresh, then answers queries.
type Pipeline struct {
	config    PipelineConfig
	source    *source.Source
	processor processor.Processor
	embedder  types.Embedder
	store     types.VectorStore
}

func NewWithConfig(config PipelineConfig, src *source.Source, embedder types.Embedder, store types.VectorStore) *Pipeline {
	if config.MaxResults == 0 {
		config.MaxResults = 3
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Pipeline{
		config:    config,
		source:    src,
		processor: processor.NewWithConfig(processor.ProcessorConfig{CollapseWhitespace: true}),
		embedder:  embedder,
		store:     store,
	}
}

// Ingest embeds every valid record in source order and writes them with a
// single bulk call followed by a refresh.
func (p *Pipeline) Ingest(ctx context.Context) (IngestStats, error) {
	var stats IngestStats

	reader, err := p.source.Open(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to open source: %w", err)
	}
	defer reader.Close()

	movies, err := drain(reader)
	if err != nil {
		return stats, err
	}

	stats.Rows = len(movies)
	stats.Skipped = reader.Skipped()
	if stats.Skipped > 0 {
		metrics.SkippedRowsTotal.Add(float64(stats.Skipped))
		p.config.Logger.Warn("Skipped malformed rows", zap.Int("skipped", stats.Skipped), zap.Int("valid", stats.Rows))
	}

	segments := p.processor.Process(movies)
	embeddings := make([]models.Embedding, 0, len(segments))

	for i, segment := range segments {
		embedding, err := p.embedder.Embed(ctx, segment.Text)
		if err != nil {
			return stats, fmt.Errorf("failed to embed movie %s: %w", movies[i].ID, err)
		}
		embeddings = append(embeddings, embedding)

		if p.config.OnEmbedded != nil {
			p.config.OnEmbedded(i+1, len(segments))
		}
	}

	if len(segments) == 0 {
		p.config.Logger.Warn("No valid rows to index")
		return stats, nil
	}

	if err := p.store.AddAll(ctx, embeddings, segments); err != nil {
		return stats, fmt.Errorf("failed to write index: %w", err)
	}
	if err := p.store.Refresh(ctx); err != nil {
		return stats, fmt.Errorf("failed to refresh index: %w", err)
	}

	stats.Embedded = len(embeddings)
	p.config.Logger.Info("Ingestion complete",
		zap.Int("rows", stats.Rows),
		zap.Int("skipped", stats.Skipped),
		zap.Int("embedded", stats.Embedded))

	return stats, nil
}

func drain(records types.RecordSource) ([]models.Movie, error) {
	var movies []models.Movie
	for {
		movie, err := records.Next()
		if errors.Is(err, io.EOF) {
			return movies, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read source: %w", err)
		}
		movies = append(movies, movie)
	}
}

// Search runs one query in the given mode.
func (p *Pipeline) Search(ctx context.Context, mode models.SearchMode, query string) ([]models.QueryResult, error) {
	r, err := retriever.NewWithConfig(retriever.RetrieverConfig{
		Mode:       mode,
		MaxResults: p.config.MaxResults,
	}, p.embedder, p.store)
	if err != nil {
		return nil, err
	}
	return r.Retrieve(ctx, query)
}
