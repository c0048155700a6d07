package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// DefaultQuery is the demonstration query run against both search modes.
const DefaultQuery = "Find movies where the main character is stuck in a time loop and reliving the same day."

// DefaultSourceLocation is the sample table shipped in the repository.
const DefaultSourceLocation = "data/scifi_sample.csv"

// MaxNumCandidates is the largest num_candidates Elasticsearch accepts.
const MaxNumCandidates = 10000

type Config struct {
	Search   SearchConfig   `yaml:"search"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Database DatabaseConfig `yaml:"database"`
	Source   SourceConfig   `yaml:"source"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type SearchConfig struct {
	Backend       string `yaml:"backend"`
	ServerURL     string `yaml:"server_url"`
	APIKey        string `yaml:"api_key"`
	IndexName     string `yaml:"index_name"`
	MaxResults    int    `yaml:"max_results"`
	NumCandidates int    `yaml:"num_candidates"`
	Query         string `yaml:"query"`
}

type EmbedderConfig struct {
	Provider  string  `yaml:"provider"`
	BaseURL   string  `yaml:"base_url"`
	Model     string  `yaml:"model"`
	APIKey    string  `yaml:"api_key"`
	RateLimit float64 `yaml:"rate_limit"`
	CacheAddr string  `yaml:"cache_addr"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
}

type SourceConfig struct {
	Location  string        `yaml:"location"`
	Timeout   time.Duration `yaml:"timeout"`
	HasHeader bool          `yaml:"has_header"`
	Delimiter string        `yaml:"delimiter"` // single character
}

// DelimiterRune returns the configured column separator.
func (c SourceConfig) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Delimiter)
	return r
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// Environment variable names. The hyphenated names match the ones the
// deployment scripts already export.
const (
	EnvServerURL = "server-url"
	EnvAPIKey    = "api-key"
	EnvOllamaURL = "ollama-url"
	EnvModelName = "model-name"
)

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/moviesearch/config.yaml"),
			"/etc/moviesearch/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Environment wins over the file, defaults fill whatever is left
	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() *Config {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	if config.Search.Backend == "" {
		config.Search.Backend = "elasticsearch"
	}
	if config.Search.IndexName == "" {
		config.Search.IndexName = "default"
	}
	if config.Search.MaxResults == 0 {
		config.Search.MaxResults = 3
	}
	if config.Search.NumCandidates == 0 {
		config.Search.NumCandidates = 100
	}
	if config.Search.Query == "" {
		config.Search.Query = DefaultQuery
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "ollama"
	}
	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}
	if config.Embedder.Model == "" {
		config.Embedder.Model = "nomic-embed-text:latest"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "movies"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Source.Location == "" {
		config.Source.Location = DefaultSourceLocation
	}
	if config.Source.Delimiter == "" {
		config.Source.Delimiter = ","
	}
	if config.Source.Timeout == 0 {
		config.Source.Timeout = 30 * time.Second
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.Log.Env == "" {
		config.Log.Env = "dev"
	}
}

func mergeWithEnv(config *Config) {
	if serverURL := os.Getenv(EnvServerURL); serverURL != "" {
		config.Search.ServerURL = serverURL
	}
	if apiKey := os.Getenv(EnvAPIKey); apiKey != "" {
		config.Search.APIKey = apiKey
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedder.BaseURL = baseURL
	}
	if baseURL := os.Getenv(EnvOllamaURL); baseURL != "" {
		config.Embedder.BaseURL = baseURL
	}
	if model := os.Getenv(EnvModelName); model != "" {
		config.Embedder.Model = model
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		config.Embedder.CacheAddr = redisAddr
	}
}
