package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/xhad/moviesearch/internal/models"
	"github.com/xhad/moviesearch/internal/types"
)

// RateLimited spaces out calls to the wrapped embedder.
type RateLimited struct {
	inner   types.Embedder
	limiter *rate.Limiter
}

// NewRateLimited allows at most rps calls per second.
func NewRateLimited(inner types.Embedder, rps float64) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (r *RateLimited) Embed(ctx context.Context, text string) (models.Embedding, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.inner.Embed(ctx, text)
}
