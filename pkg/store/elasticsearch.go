package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/xhad/moviesearch/internal/metrics"
	"github.com/xhad/moviesearch/internal/models"
	"github.com/xhad/moviesearch/internal/types"
)

// Document field names inside the index.
const (
	fieldText     = "text"
	fieldMetadata = "metadata"
	fieldVector   = "vector"
)

// ElasticsearchStore writes and queries documents in one Elasticsearch index.
type ElasticsearchStore struct {
	config     StoreConfig
	client     *elasticsearch.Client
	transport  *http.Transport
	logger     *zap.Logger
	indexReady bool
}

func NewElasticsearchStore(config StoreConfig) (*ElasticsearchStore, error) {
	config.applyDefaults()

	header := http.Header{}
	if config.APIKey != "" {
		header.Set("Authorization", "ApiKey "+config.APIKey)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{config.ServerURL},
		Header:    header,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	return &ElasticsearchStore{
		config:    config,
		client:    client,
		transport: transport,
		logger:    config.Logger,
	}, nil
}

type esDocument struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
	Vector   []float32              `json:"vector"`
}

type bulkAction struct {
	Index struct {
		Index string `json:"_index"`
		ID    string `json:"_id"`
	} `json:"index"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// AddAll writes every segment with its embedding in one bulk request.
func (s *ElasticsearchStore) AddAll(ctx context.Context, embeddings []models.Embedding, segments []models.TextSegment) error {
	if err := checkAligned(embeddings, segments); err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}

	if err := s.ensureIndex(ctx, len(embeddings[0])); err != nil {
		return err
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i, segment := range segments {
		var action bulkAction
		action.Index.Index = s.config.IndexName
		action.Index.ID = DocumentID(segment)

		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(esDocument{
			Text:     segment.Text,
			Metadata: segment.Metadata,
			Vector:   embeddings[i],
		}); err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
	}

	res, err := s.client.Bulk(&body,
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithIndex(s.config.IndexName),
	)
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return responseError("bulk", res)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("parse bulk response: %w", err)
	}
	if parsed.Errors {
		for _, item := range parsed.Items {
			for op, result := range item {
				if result.Error != nil {
					return fmt.Errorf("bulk %s of %s failed: %s: %s", op, result.ID, result.Error.Type, result.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk request reported errors")
	}

	metrics.IndexedDocumentsTotal.WithLabelValues("elasticsearch").Add(float64(len(segments)))
	s.logger.Debug("Bulk write complete",
		zap.String("index", s.config.IndexName),
		zap.Int("documents", len(segments)))

	return nil
}

// ensureIndex creates the index with a dense_vector mapping sized to dims.
func (s *ElasticsearchStore) ensureIndex(ctx context.Context, dims int) error {
	if s.indexReady {
		return nil
	}

	res, err := s.client.Indices.Exists([]string{s.config.IndexName},
		s.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	status := res.StatusCode
	closeBody(res)

	switch status {
	case http.StatusOK:
		s.indexReady = true
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("elasticsearch index exists: status %d", status)
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				fieldText:     map[string]interface{}{"type": "text"},
				fieldMetadata: map[string]interface{}{"type": "object"},
				fieldVector: map[string]interface{}{
					"type":       "dense_vector",
					"dims":       dims,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}

	res, err = s.client.Indices.Create(s.config.IndexName,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer closeBody(res)
	if res.IsError() {
		return responseError("create index", res)
	}

	s.logger.Info("Created index", zap.String("index", s.config.IndexName), zap.Int("dims", dims))
	s.indexReady = true
	return nil
}

// Refresh makes everything written so far visible to search.
func (s *ElasticsearchStore) Refresh(ctx context.Context) error {
	res, err := s.client.Indices.Refresh(
		s.client.Indices.Refresh.WithContext(ctx),
		s.client.Indices.Refresh.WithIndex(s.config.IndexName),
	)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return responseError("refresh", res)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string   `json:"_id"`
			Score  *float64 `json:"_score"`
			Source struct {
				Text     string                 `json:"text"`
				Metadata map[string]interface{} `json:"metadata"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *ElasticsearchStore) Search(ctx context.Context, req types.SearchRequest) ([]models.QueryResult, error) {
	start := time.Now()
	results, err := s.search(ctx, req)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SearchRequestsTotal.WithLabelValues("elasticsearch", string(req.Mode), status).Inc()
	metrics.SearchRequestDuration.WithLabelValues("elasticsearch", string(req.Mode)).Observe(time.Since(start).Seconds())

	return results, err
}

func (s *ElasticsearchStore) search(ctx context.Context, req types.SearchRequest) ([]models.QueryResult, error) {
	query, err := buildSearchBody(req, s.config.NumCandidates)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.config.IndexName),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer closeBody(res)

	if res.IsError() {
		return nil, responseError("search", res)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	results := make([]models.QueryResult, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		r := models.QueryResult{
			ID: hit.ID,
			Segment: models.TextSegment{
				Text:     hit.Source.Text,
				Metadata: hit.Source.Metadata,
			},
		}
		if hit.Score != nil {
			r.Score = *hit.Score
		}
		results = append(results, r)
	}
	return results, nil
}

// buildSearchBody renders the request body for the given mode. Hybrid mode
// hands both rankings to the engine's rrf retriever.
func buildSearchBody(req types.SearchRequest, numCandidates int) (map[string]interface{}, error) {
	if len(req.Embedding) == 0 {
		return nil, fmt.Errorf("search requires a query embedding")
	}

	k := req.MaxResults
	if numCandidates < k {
		numCandidates = k
	}

	source := []string{fieldText, fieldMetadata}

	switch req.Mode {
	case models.ModeVector:
		return map[string]interface{}{
			"size": k,
			"knn": map[string]interface{}{
				"field":          fieldVector,
				"query_vector":   req.Embedding,
				"k":              k,
				"num_candidates": numCandidates,
			},
			"_source": source,
		}, nil

	case models.ModeHybrid:
		window := windowSize(k)
		if numCandidates < window {
			numCandidates = window
		}
		return map[string]interface{}{
			"size": k,
			"retriever": map[string]interface{}{
				"rrf": map[string]interface{}{
					"retrievers": []interface{}{
						map[string]interface{}{
							"standard": map[string]interface{}{
								"query": map[string]interface{}{
									"match": map[string]interface{}{
										fieldText: map[string]interface{}{"query": req.Query},
									},
								},
							},
						},
						map[string]interface{}{
							"knn": map[string]interface{}{
								"field":          fieldVector,
								"query_vector":   req.Embedding,
								"k":              window,
								"num_candidates": numCandidates,
							},
						},
					},
					"rank_window_size": window,
					"rank_constant":    rrfK,
				},
			},
			"_source": source,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported search mode %q", req.Mode)
	}
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("elasticsearch %s: status %d: %s", op, res.StatusCode, bytes.TrimSpace(body))
}

// closeBody drains the response so its connection returns to the idle pool.
func closeBody(res *esapi.Response) {
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
}

// Close drops the idle connections held by the store's HTTP transport.
func (s *ElasticsearchStore) Close() {
	s.transport.CloseIdleConnections()
}
