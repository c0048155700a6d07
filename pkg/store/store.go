package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xhad/moviesearch/internal/models"
	"github.com/xhad/moviesearch/internal/types"
)

var (
	// ErrLengthMismatch is returned when embeddings and segments are not index-aligned.
	ErrLengthMismatch = errors.New("embeddings and segments must have equal length")
	// ErrUnknownBackend is returned for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown search backend")
)

// idNamespace seeds the name-based document IDs.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/xhad/moviesearch"))

type StoreConfig struct {
	Backend string // "elasticsearch" or "pgvector"

	// elasticsearch
	ServerURL     string
	APIKey        string
	IndexName     string
	NumCandidates int

	// pgvector
	ConnString string
	TableName  string
	VectorDim  int

	Logger *zap.Logger
}

func (c *StoreConfig) applyDefaults() {
	if c.Backend == "" {
		c.Backend = "elasticsearch"
	}
	if c.IndexName == "" {
		c.IndexName = "default"
	}
	if c.NumCandidates == 0 {
		c.NumCandidates = 100
	}
	if c.TableName == "" {
		c.TableName = "movies"
	}
	if c.VectorDim == 0 {
		c.VectorDim = 768
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// NewFromConfig opens the configured backend.
func NewFromConfig(config StoreConfig) (types.VectorStore, error) {
	config.applyDefaults()

	switch config.Backend {
	case "elasticsearch":
		return NewElasticsearchStore(config)
	case "pgvector":
		return NewPgVectorStore(config)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, config.Backend)
	}
}

// DocumentID derives a stable ID from the segment's movie_id and text, so
// re-ingesting the same table overwrites documents while distinct rows that
// share a movie_id each keep their own entry. Segments without a movie_id get
// a random ID.
func DocumentID(segment models.TextSegment) string {
	movieID := segment.MetadataString("movie_id")
	if movieID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(idNamespace, []byte(movieID+"\x00"+segment.Text)).String()
}

func checkAligned(embeddings []models.Embedding, segments []models.TextSegment) error {
	if len(embeddings) != len(segments) {
		return fmt.Errorf("%w: %d embeddings, %d segments", ErrLengthMismatch, len(embeddings), len(segments))
	}
	return nil
}

// windowSize is how many candidates each ranking contributes before fusion.
func windowSize(maxResults int) int {
	if maxResults < 10 {
		return 10
	}
	return maxResults
}
