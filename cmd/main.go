package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/xhad/moviesearch/internal/logger"
	"github.com/xhad/moviesearch/internal/metrics"
	"github.com/xhad/moviesearch/internal/models"
	cfgPkg "github.com/xhad/moviesearch/pkg/config"
	"github.com/xhad/moviesearch/pkg/llm"
	"github.com/xhad/moviesearch/pkg/pipeline"
	"github.com/xhad/moviesearch/pkg/source"
	"github.com/xhad/moviesearch/pkg/store"
	"github.com/xhad/moviesearch/server"
)

type Flags struct {
	ConfigPath string
	Verbose    bool
	SkipIngest bool
	Serve      bool

	// Overrides for the config file. Empty or zero means unset.
	Backend    string
	ServerURL  string
	OllamaURL  string
	Model      string
	Source     string
	Delimiter  string
	Query      string
	MaxResults int
	LogLevel   string
}

func main() {
	flags := parseFlags()

	if err := run(flags); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Flags {
	var f Flags

	flag.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	flag.BoolVar(&f.Verbose, "verbose", false, "Print scores and full text for each result")
	flag.BoolVar(&f.SkipIngest, "skip-ingest", false, "Query the existing index without loading the table")
	flag.BoolVar(&f.Serve, "serve", false, "Start the WebSocket query server after the demo queries")
	flag.StringVar(&f.Backend, "backend", "", "Search backend: elasticsearch or pgvector")
	flag.StringVar(&f.ServerURL, "server-url", "", "Elasticsearch server URL")
	flag.StringVar(&f.OllamaURL, "ollama-url", "", "Ollama server URL")
	flag.StringVar(&f.Model, "model", "", "Embedding model name")
	flag.StringVar(&f.Source, "source", "", "Movie table path or URL")
	flag.StringVar(&f.Delimiter, "delimiter", "", "Column separator of the movie table")
	flag.StringVar(&f.Query, "query", "", "Query to run in both search modes")
	flag.IntVar(&f.MaxResults, "max-results", 0, "Maximum results per query")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	return f
}

// applyOverrides copies set flags over file and environment values.
func applyOverrides(cfg *cfgPkg.Config, f Flags) {
	if f.Backend != "" {
		cfg.Search.Backend = f.Backend
	}
	if f.ServerURL != "" {
		cfg.Search.ServerURL = f.ServerURL
	}
	if f.OllamaURL != "" {
		cfg.Embedder.BaseURL = f.OllamaURL
	}
	if f.Model != "" {
		cfg.Embedder.Model = f.Model
	}
	if f.Source != "" {
		cfg.Source.Location = f.Source
	}
	if f.Delimiter != "" {
		cfg.Source.Delimiter = f.Delimiter
	}
	if f.Query != "" {
		cfg.Search.Query = f.Query
	}
	if f.MaxResults != 0 {
		cfg.Search.MaxResults = f.MaxResults
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
}

func run(f Flags) error {
	cfg, err := cfgPkg.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyOverrides(cfg, f)

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("  %s", e.Error())
		}
		return fmt.Errorf("invalid configuration: %d error(s)", len(errs))
	}

	zl, err := logger.NewLogger(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer zl.Sync()

	metrics.Register()

	embedder, err := llm.NewFromConfig(llm.EmbedderConfig{
		Provider:  cfg.Embedder.Provider,
		Model:     cfg.Embedder.Model,
		BaseURL:   cfg.Embedder.BaseURL,
		APIKey:    cfg.Embedder.APIKey,
		RateLimit: cfg.Embedder.RateLimit,
		CacheAddr: cfg.Embedder.CacheAddr,
		Logger:    zl,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	defer embedder.Close()

	vectorStore, err := store.NewFromConfig(store.StoreConfig{
		Backend:       cfg.Search.Backend,
		ServerURL:     cfg.Search.ServerURL,
		APIKey:        cfg.Search.APIKey,
		IndexName:     cfg.Search.IndexName,
		NumCandidates: cfg.Search.NumCandidates,
		ConnString:    cfg.Database.URL,
		TableName:     cfg.Database.TableName,
		VectorDim:     cfg.Database.VectorDim,
		Logger:        zl,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	defer vectorStore.Close()

	src, err := source.NewWithConfig(source.SourceConfig{
		Location:  cfg.Source.Location,
		Timeout:   cfg.Source.Timeout,
		HasHeader: cfg.Source.HasHeader,
		Delimiter: cfg.Source.DelimiterRune(),
		Logger:    zl,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize source: %w", err)
	}

	progress := &embeddingProgress{w: os.Stderr}
	p := pipeline.NewWithConfig(pipeline.PipelineConfig{
		MaxResults: cfg.Search.MaxResults,
		Logger:     zl,
		OnEmbedded: progress.update,
	}, src, embedder, vectorStore)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !f.SkipIngest {
		color.Blue("\nLoading movies from %s\n", cfg.Source.Location)

		stats, err := p.Ingest(ctx)
		progress.finish()
		if err != nil {
			return err
		}
		color.Green("\n✓ Indexed %d movies (%d malformed rows skipped)\n", stats.Embedded, stats.Skipped)
	}

	for _, mode := range []models.SearchMode{models.ModeVector, models.ModeHybrid} {
		spinner := getSpinner(fmt.Sprintf("Running %s search...", mode))
		results, err := p.Search(ctx, mode, cfg.Search.Query)
		spinner.Finish()
		fmt.Print("\r")
		if err != nil {
			return err
		}
		printResults(os.Stdout, mode, results, f.Verbose)
	}

	if f.Serve {
		zl.Info("Serving queries", zap.String("addr", cfg.Server.Addr))
		return server.NewWSServer(server.Config{
			Addr:   cfg.Server.Addr,
			Logger: zl,
		}, p).Run(ctx)
	}

	return nil
}
