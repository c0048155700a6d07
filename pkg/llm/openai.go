package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xhad/moviesearch/internal/models"
)

// OpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint,
// including Ollama's /v1 API.
type OpenAIEmbedder struct {
	config EmbedderConfig
	client *openai.Client
}

func NewOpenAIEmbedder(config EmbedderConfig) *OpenAIEmbedder {
	config.applyDefaults()

	clientCfg := openai.DefaultConfig(config.APIKey)
	clientCfg.BaseURL = config.BaseURL

	return &OpenAIEmbedder{
		config: config,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (models.Embedding, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(e.config.Model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err == nil && (len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0) {
		err = ErrEmptyEmbedding
	}
	observe("openai", e.config.Model, start, err)
	if err != nil {
		return nil, parseAPIError(err)
	}

	return models.Embedding(resp.Data[0].Embedding), nil
}

func parseAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("embedding API error %d: %s", reqErr.HTTPStatusCode, string(reqErr.Body))
	}

	return fmt.Errorf("failed to create embedding: %w", err)
}
