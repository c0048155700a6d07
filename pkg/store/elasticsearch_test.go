package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/moviesearch/internal/estest"
	"github.com/xhad/moviesearch/internal/models"
	"github.com/xhad/moviesearch/internal/types"
)

func segment(id, name, text string) models.TextSegment {
	return models.TextSegment{
		Text:     text,
		Metadata: map[string]interface{}{"movie_id": id, "movie_name": name},
	}
}

func newTestStore(t *testing.T, server *estest.Server) *ElasticsearchStore {
	t.Helper()
	s, err := NewElasticsearchStore(StoreConfig{
		ServerURL: server.URL,
		APIKey:    "secret",
		IndexName: "default",
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestElasticsearchAddAllRefreshSearch(t *testing.T) {
	server := estest.NewServer()
	defer server.Close()
	s := newTestStore(t, server)
	ctx := context.Background()

	embeddings := []models.Embedding{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}}
	segments := []models.TextSegment{
		segment("1", "Groundhog Day", "a man relives the same day"),
		segment("2", "Alien", "a creature hunts a crew"),
		segment("3", "Edge of Tomorrow", "a soldier repeats the same day"),
	}

	require.NoError(t, s.AddAll(ctx, embeddings, segments))
	assert.Equal(t, 3, server.Pending("default"))
	assert.Equal(t, 0, server.Visible("default"))

	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, 3, server.Visible("default"))

	results, err := s.Search(ctx, types.SearchRequest{
		Mode:       models.ModeVector,
		Query:      "same day",
		Embedding:  models.Embedding{1, 0, 0},
		MaxResults: 2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Groundhog Day", results[0].MovieName())
	assert.Equal(t, "Edge of Tomorrow", results[1].MovieName())
	assert.Equal(t, "a man relives the same day", results[0].Segment.Text)

	hybrid, err := s.Search(ctx, types.SearchRequest{
		Mode:       models.ModeHybrid,
		Query:      "crew creature",
		Embedding:  models.Embedding{1, 0, 0},
		MaxResults: 3,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(hybrid), 3)
	assert.NotEmpty(t, hybrid)

	for _, req := range server.Requests() {
		assert.Equal(t, "ApiKey secret", req.Authorization, "%s %s", req.Method, req.Path)
	}
}

func TestElasticsearchCreatesIndexOnce(t *testing.T) {
	server := estest.NewServer()
	defer server.Close()
	s := newTestStore(t, server)
	ctx := context.Background()

	require.NoError(t, s.AddAll(ctx, []models.Embedding{{1, 2}}, []models.TextSegment{segment("1", "A", "a")}))
	require.NoError(t, s.AddAll(ctx, []models.Embedding{{3, 4}}, []models.TextSegment{segment("2", "B", "b")}))

	var creates int
	var mapping map[string]interface{}
	for _, req := range server.Requests() {
		if req.Method == "PUT" && req.Path == "/default" {
			creates++
			require.NoError(t, json.Unmarshal(req.Body, &mapping))
		}
	}
	assert.Equal(t, 1, creates)

	props := mapping["mappings"].(map[string]interface{})["properties"].(map[string]interface{})
	vector := props["vector"].(map[string]interface{})
	assert.Equal(t, "dense_vector", vector["type"])
	assert.Equal(t, float64(2), vector["dims"])
}

func TestElasticsearchUpsertIsIdempotent(t *testing.T) {
	server := estest.NewServer()
	defer server.Close()
	s := newTestStore(t, server)
	ctx := context.Background()

	segs := []models.TextSegment{segment("1", "A", "a"), segment("2", "B", "b")}
	embs := []models.Embedding{{1, 0}, {0, 1}}

	require.NoError(t, s.AddAll(ctx, embs, segs))
	require.NoError(t, s.AddAll(ctx, embs, segs))
	require.NoError(t, s.Refresh(ctx))

	assert.Equal(t, 2, server.Visible("default"))
}

func TestElasticsearchAddAllLengthMismatch(t *testing.T) {
	server := estest.NewServer()
	defer server.Close()
	s := newTestStore(t, server)

	err := s.AddAll(context.Background(), []models.Embedding{{1}}, nil)
	assert.True(t, errors.Is(err, ErrLengthMismatch))
	assert.Empty(t, server.Requests())
}

func TestElasticsearchAddAllEmpty(t *testing.T) {
	server := estest.NewServer()
	defer server.Close()
	s := newTestStore(t, server)

	require.NoError(t, s.AddAll(context.Background(), nil, nil))
	assert.Empty(t, server.Requests())
}

func TestElasticsearchBulkItemErrors(t *testing.T) {
	server := estest.NewServer()
	server.FailBulk = true
	defer server.Close()
	s := newTestStore(t, server)

	err := s.AddAll(context.Background(), []models.Embedding{{1}}, []models.TextSegment{segment("1", "A", "a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestElasticsearchSearchMissingIndex(t *testing.T) {
	server := estest.NewServer()
	defer server.Close()
	s := newTestStore(t, server)

	_, err := s.Search(context.Background(), types.SearchRequest{
		Mode:       models.ModeVector,
		Embedding:  models.Embedding{1},
		MaxResults: 3,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestElasticsearchCloseReleasesConnections(t *testing.T) {
	server := estest.NewServer()
	defer server.Close()

	s, err := NewElasticsearchStore(StoreConfig{ServerURL: server.URL})
	require.NoError(t, err)

	require.NoError(t, s.Refresh(context.Background()))
	require.Eventually(t, func() bool { return server.OpenConns() > 0 }, time.Second, 10*time.Millisecond)

	s.Close()
	assert.Eventually(t, func() bool { return server.OpenConns() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBuildSearchBody(t *testing.T) {
	req := types.SearchRequest{
		Query:      "time loop",
		Embedding:  models.Embedding{0.5, 0.5},
		MaxResults: 3,
	}

	t.Run("vector", func(t *testing.T) {
		req := req
		req.Mode = models.ModeVector
		body, err := buildSearchBody(req, 100)
		require.NoError(t, err)

		assert.Equal(t, 3, body["size"])
		knn := body["knn"].(map[string]interface{})
		assert.Equal(t, "vector", knn["field"])
		assert.Equal(t, 3, knn["k"])
		assert.Equal(t, 100, knn["num_candidates"])
		assert.NotContains(t, body, "retriever")
	})

	t.Run("hybrid", func(t *testing.T) {
		req := req
		req.Mode = models.ModeHybrid
		body, err := buildSearchBody(req, 5)
		require.NoError(t, err)

		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		s := string(encoded)
		assert.True(t, strings.Contains(s, `"rrf"`))
		assert.True(t, strings.Contains(s, `"match":{"text":{"query":"time loop"}}`))
		assert.True(t, strings.Contains(s, `"num_candidates":10`))
		assert.NotContains(t, body, "knn")
		assert.Equal(t, 3, body["size"])
	})

	t.Run("missing embedding", func(t *testing.T) {
		req := req
		req.Mode = models.ModeVector
		req.Embedding = nil
		_, err := buildSearchBody(req, 100)
		assert.Error(t, err)
	})

	t.Run("unknown mode", func(t *testing.T) {
		req := req
		req.Mode = "bm25"
		_, err := buildSearchBody(req, 100)
		assert.Error(t, err)
	})
}
