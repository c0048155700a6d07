package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
search:
  backend: "elasticsearch"
  server_url: "https://es.local:9200"
  api_key: "file-key"
  index_name: "movies"
  max_results: 5
  num_candidates: 50

embedder:
  provider: "ollama"
  base_url: "http://localhost:11434"
  model: "all-minilm"
  rate_limit: 4

database:
  url: "postgres://localhost:5432/test"
  table_name: "test_movies"
  vector_dim: 384

source:
  location: "https://example.com/movies.csv"
  timeout: 10s
  has_header: true
  delimiter: ";"

log:
  env: "prod"
  level: "warn"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "https://es.local:9200", config.Search.ServerURL)
	assert.Equal(t, "file-key", config.Search.APIKey)
	assert.Equal(t, "movies", config.Search.IndexName)
	assert.Equal(t, 5, config.Search.MaxResults)
	assert.Equal(t, 50, config.Search.NumCandidates)
	assert.Equal(t, DefaultQuery, config.Search.Query)
	assert.Equal(t, "all-minilm", config.Embedder.Model)
	assert.Equal(t, 4.0, config.Embedder.RateLimit)
	assert.Equal(t, 384, config.Database.VectorDim)
	assert.Equal(t, "https://example.com/movies.csv", config.Source.Location)
	assert.Equal(t, 10*time.Second, config.Source.Timeout)
	assert.True(t, config.Source.HasHeader)
	assert.Equal(t, ';', config.Source.DelimiterRune())
	assert.Equal(t, "prod", config.Log.Env)
	assert.Equal(t, ":8080", config.Server.Addr)
	assert.Empty(t, config.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("search: [unclosed"), 0644))

	_, err := LoadConfig(configPath)
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	config := &Config{}
	applyDefaults(config)

	assert.Equal(t, "elasticsearch", config.Search.Backend)
	assert.Equal(t, "default", config.Search.IndexName)
	assert.Equal(t, 3, config.Search.MaxResults)
	assert.Equal(t, "ollama", config.Embedder.Provider)
	assert.Equal(t, "http://localhost:11434", config.Embedder.BaseURL)
	assert.Equal(t, 30*time.Second, config.Source.Timeout)
	assert.Equal(t, ',', config.Source.DelimiterRune())
	assert.Equal(t, DefaultSourceLocation, config.Source.Location)
	assert.Equal(t, "dev", config.Log.Env)

	// the default table ships with the repository
	_, err := os.Stat(filepath.Join("..", "..", DefaultSourceLocation))
	assert.NoError(t, err)
}

func TestConfigValidation(t *testing.T) {
	valid := func() Config {
		c := Config{}
		c.Search.ServerURL = "http://localhost:9200"
		applyDefaults(&c)
		return c
	}

	tests := []struct {
		name          string
		mutate        func(c *Config)
		errorMessages []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:          "missing search url",
			mutate:        func(c *Config) { c.Search.ServerURL = "" },
			errorMessages: []string{"search.server_url: search engine URL is required"},
		},
		{
			name: "invalid values",
			mutate: func(c *Config) {
				c.Search.ServerURL = "invalid-url"
				c.Search.MaxResults = 500
				c.Embedder.Provider = "cohere"
				c.Embedder.RateLimit = -1
			},
			errorMessages: []string{
				"search.server_url: invalid search engine URL",
				"search.max_results: max_results must be between 1 and 100",
				"search.num_candidates: num_candidates must not be less than max_results",
				"embedder.provider: unknown provider \"cohere\"",
				"embedder.rate_limit: rate_limit must not be negative",
			},
		},
		{
			name: "pgvector without database",
			mutate: func(c *Config) {
				c.Search.Backend = "pgvector"
				c.Search.ServerURL = ""
			},
			errorMessages: []string{"database.url: database URL is required for the pgvector backend"},
		},
		{
			name:          "num_candidates above engine limit",
			mutate:        func(c *Config) { c.Search.NumCandidates = 20000 },
			errorMessages: []string{"search.num_candidates: num_candidates must not exceed 10000"},
		},
		{
			name:          "multi-character delimiter",
			mutate:        func(c *Config) { c.Source.Delimiter = "||" },
			errorMessages: []string{"source.delimiter: delimiter must be a single character"},
		},
		{
			name:          "quote delimiter",
			mutate:        func(c *Config) { c.Source.Delimiter = "\"" },
			errorMessages: []string{"source.delimiter"},
		},
		{
			name:          "unknown backend",
			mutate:        func(c *Config) { c.Search.Backend = "solr" },
			errorMessages: []string{"search.backend: unknown backend \"solr\""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			errors := c.Validate()
			require.Len(t, errors, len(tt.errorMessages))

			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvServerURL, "http://env-es:9200")
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvOllamaURL, "http://env-ollama:11434")
	t.Setenv(EnvModelName, "mxbai-embed-large")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("REDIS_ADDR", "env-redis:6379")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-es:9200", config.Search.ServerURL)
	assert.Equal(t, "env-key", config.Search.APIKey)
	assert.Equal(t, "http://env-ollama:11434", config.Embedder.BaseURL)
	assert.Equal(t, "mxbai-embed-large", config.Embedder.Model)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "env-redis:6379", config.Embedder.CacheAddr)
}

func TestEnvironmentBeatsFile(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("search:\n  api_key: file-key\n"), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "env-key", config.Search.APIKey)
}
