package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/xhad/moviesearch/internal/metrics"
	"github.com/xhad/moviesearch/internal/models"
	"github.com/xhad/moviesearch/internal/types"
)

// PgVectorStore keeps documents in a Postgres table with a pgvector column
// and a generated tsvector column for lexical matching.
type PgVectorStore struct {
	config StoreConfig
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

func NewPgVectorStore(config StoreConfig) (*PgVectorStore, error) {
	config.applyDefaults()

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PgVectorStore{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
		logger: config.Logger,
	}

	if err := vs.initialize(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PgVectorStore) initialize(ctx context.Context) error {
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
		)`, vs.table, vs.config.VectorDim),
		fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
			pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize(), vs.table),
		fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING gin (content_tsv)`,
			pgx.Identifier{vs.config.TableName + "_tsv_idx"}.Sanitize(), vs.table),
	}

	for _, stmt := range statements {
		if _, err := vs.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// AddAll upserts every segment in a single transaction.
func (vs *PgVectorStore) AddAll(ctx context.Context, embeddings []models.Embedding, segments []models.TextSegment) error {
	if err := checkAligned(embeddings, segments); err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.table)

	batch := &pgx.Batch{}
	for i, segment := range segments {
		batch.Queue(stmt,
			DocumentID(segment),
			segment.Text,
			segment.Metadata,
			pgvector.NewVector(embeddings[i]),
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert documents: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.IndexedDocumentsTotal.WithLabelValues("pgvector").Add(float64(len(segments)))
	return nil
}

// Refresh updates planner statistics. Committed rows are already visible.
func (vs *PgVectorStore) Refresh(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "ANALYZE "+vs.table); err != nil {
		return fmt.Errorf("failed to analyze table: %w", err)
	}
	return nil
}

func (vs *PgVectorStore) Search(ctx context.Context, req types.SearchRequest) ([]models.QueryResult, error) {
	start := time.Now()

	var (
		results []models.QueryResult
		err     error
	)
	switch req.Mode {
	case models.ModeVector:
		results, err = vs.queryVector(ctx, req.Embedding, req.MaxResults)
	case models.ModeHybrid:
		results, err = vs.queryHybrid(ctx, req)
	default:
		err = fmt.Errorf("unsupported search mode %q", req.Mode)
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SearchRequestsTotal.WithLabelValues("pgvector", string(req.Mode), status).Inc()
	metrics.SearchRequestDuration.WithLabelValues("pgvector", string(req.Mode)).Observe(time.Since(start).Seconds())

	return results, err
}

func (vs *PgVectorStore) queryVector(ctx context.Context, embedding models.Embedding, limit int) ([]models.QueryResult, error) {
	query := fmt.Sprintf(`
		SELECT id, content, metadata, (1 - (embedding <=> $1))::float8 AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.table)

	return vs.query(ctx, query, pgvector.NewVector(embedding), limit)
}

func (vs *PgVectorStore) queryLexical(ctx context.Context, text string, limit int) ([]models.QueryResult, error) {
	query := fmt.Sprintf(`
		SELECT id, content, metadata, ts_rank(content_tsv, q)::float8 AS score
		FROM %s, plainto_tsquery('english', $1) q
		WHERE content_tsv @@ q
		ORDER BY score DESC
		LIMIT $2`,
		vs.table)

	return vs.query(ctx, query, text, limit)
}

// queryHybrid fuses the vector and lexical rankings with RRF.
func (vs *PgVectorStore) queryHybrid(ctx context.Context, req types.SearchRequest) ([]models.QueryResult, error) {
	window := windowSize(req.MaxResults)

	knn, err := vs.queryVector(ctx, req.Embedding, window)
	if err != nil {
		return nil, err
	}
	lexical, err := vs.queryLexical(ctx, req.Query, window)
	if err != nil {
		return nil, err
	}

	return fuseRRF(req.MaxResults, knn, lexical), nil
}

func (vs *PgVectorStore) query(ctx context.Context, query string, args ...interface{}) ([]models.QueryResult, error) {
	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var results []models.QueryResult
	for rows.Next() {
		var r models.QueryResult
		if err := rows.Scan(
			&r.ID,
			&r.Segment.Text,
			&r.Segment.Metadata,
			&r.Score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

func (vs *PgVectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
