package config

import (
	"fmt"
	"net/url"
	"unicode/utf8"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate search config
	switch c.Search.Backend {
	case "elasticsearch":
		if c.Search.ServerURL == "" {
			errors = append(errors, ValidationError{
				Field:   "search.server_url",
				Message: "search engine URL is required",
			})
		} else if !isHTTPURL(c.Search.ServerURL) {
			errors = append(errors, ValidationError{
				Field:   "search.server_url",
				Message: "invalid search engine URL",
			})
		}
		if c.Search.IndexName == "" {
			errors = append(errors, ValidationError{
				Field:   "search.index_name",
				Message: "index name is required",
			})
		}
	case "pgvector":
		if c.Database.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "database URL is required for the pgvector backend",
			})
		} else if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
		if c.Database.VectorDim < 1 {
			errors = append(errors, ValidationError{
				Field:   "database.vector_dim",
				Message: "vector_dim must be positive",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "search.backend",
			Message: fmt.Sprintf("unknown backend %q", c.Search.Backend),
		})
	}

	if c.Search.MaxResults < 1 || c.Search.MaxResults > 100 {
		errors = append(errors, ValidationError{
			Field:   "search.max_results",
			Message: "max_results must be between 1 and 100",
		})
	}

	if c.Search.NumCandidates < c.Search.MaxResults {
		errors = append(errors, ValidationError{
			Field:   "search.num_candidates",
			Message: "num_candidates must not be less than max_results",
		})
	} else if c.Search.NumCandidates > MaxNumCandidates {
		errors = append(errors, ValidationError{
			Field:   "search.num_candidates",
			Message: fmt.Sprintf("num_candidates must not exceed %d", MaxNumCandidates),
		})
	}

	// Validate embedder config
	if c.Embedder.Provider != "ollama" && c.Embedder.Provider != "openai" {
		errors = append(errors, ValidationError{
			Field:   "embedder.provider",
			Message: fmt.Sprintf("unknown provider %q", c.Embedder.Provider),
		})
	}

	if !isHTTPURL(c.Embedder.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "embedder.base_url",
			Message: "invalid embedding service URL",
		})
	}

	if c.Embedder.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "embedder.model",
			Message: "model name is required",
		})
	}

	if c.Embedder.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "embedder.rate_limit",
			Message: "rate_limit must not be negative",
		})
	}

	// Validate source config
	if c.Source.Location == "" {
		errors = append(errors, ValidationError{
			Field:   "source.location",
			Message: "source location is required",
		})
	}

	if d := c.Source.Delimiter; utf8.RuneCountInString(d) != 1 || d == "\"" || d == "\n" || d == "\r" {
		errors = append(errors, ValidationError{
			Field:   "source.delimiter",
			Message: fmt.Sprintf("delimiter must be a single character other than a quote or newline, got %q", d),
		})
	}

	return errors
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
