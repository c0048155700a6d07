package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/xhad/moviesearch/internal/metrics"
	"github.com/xhad/moviesearch/internal/models"
	"github.com/xhad/moviesearch/internal/types"
)

// ErrEmptyEmbedding is returned when the service answers without a vector.
var ErrEmptyEmbedding = errors.New("embedding service returned no vector")

// EmbedderConfig represents the configuration for an embedding client.
type EmbedderConfig struct {
	Provider  string // "ollama" or "openai"
	Model     string
	BaseURL   string // embedding server URL
	APIKey    string // openai only
	RateLimit float64
	CacheAddr string // redis address, empty disables caching
	Logger    *zap.Logger
}

func (c *EmbedderConfig) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	if c.Model == "" {
		c.Model = "nomic-embed-text:latest" // Default Ollama model
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// OllamaEmbedder embeds text through an Ollama server.
type OllamaEmbedder struct {
	config EmbedderConfig
	llm    *ollama.LLM
}

func NewOllamaEmbedder(config EmbedderConfig) (*OllamaEmbedder, error) {
	config.applyDefaults()

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &OllamaEmbedder{
		config: config,
		llm:    llm,
	}, nil
}

// Embed performs one blocking call per text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (models.Embedding, error) {
	start := time.Now()
	vectors, err := e.llm.CreateEmbedding(ctx, []string{text})
	if err == nil && (len(vectors) == 0 || len(vectors[0]) == 0) {
		err = ErrEmptyEmbedding
	}
	observe("ollama", e.config.Model, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	return models.Embedding(vectors[0]), nil
}

func observe(provider, model string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, status).Inc()
	if err == nil {
		metrics.EmbeddingRequestDuration.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())
	}
}

// Chain is the configured embedder with its decorators applied.
type Chain struct {
	types.Embedder
	closers []func()
}

// Close releases connections held by decorators.
func (c *Chain) Close() {
	for _, closeFn := range c.closers {
		closeFn()
	}
}

// NewFromConfig builds the provider client and wraps it with rate limiting
// and caching when configured.
func NewFromConfig(config EmbedderConfig) (*Chain, error) {
	config.applyDefaults()

	var (
		base types.Embedder
		err  error
	)
	switch config.Provider {
	case "ollama":
		base, err = NewOllamaEmbedder(config)
	case "openai":
		base = NewOpenAIEmbedder(config)
	default:
		err = fmt.Errorf("unknown embedding provider %q", config.Provider)
	}
	if err != nil {
		return nil, err
	}

	chain := &Chain{Embedder: base}

	if config.RateLimit > 0 {
		chain.Embedder = NewRateLimited(chain.Embedder, config.RateLimit)
	}

	if config.CacheAddr != "" {
		store, err := NewRedisStore(config.CacheAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect embedding cache: %w", err)
		}
		chain.Embedder = NewCached(chain.Embedder, store, config.Model, config.Logger)
		chain.closers = append(chain.closers, store.Close)
	}

	return chain, nil
}
