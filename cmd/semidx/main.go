// Package main implements the semidx CLI: a semantic memory index over
// test-automation artifacts, with an ingestion pipeline, similarity
// search, staleness detection and background reindexing.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semidx/internal/config"
	"github.com/fyrsmithlabs/semidx/internal/embeddings"
	"github.com/fyrsmithlabs/semidx/internal/ingest"
	"github.com/fyrsmithlabs/semidx/internal/logging"
	"github.com/fyrsmithlabs/semidx/internal/reindex"
	"github.com/fyrsmithlabs/semidx/internal/reliability"
	"github.com/fyrsmithlabs/semidx/internal/search"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

var (
	// configPath overrides the default config file location.
	configPath string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "semidx",
	Short: "Semantic memory index for test-automation artifacts",
	Long: `semidx embeds test-automation artifacts (tests, scenarios, pages, failures)
into a vector store and answers similarity queries over them. It tracks
embedding staleness and drift, and re-embeds stale records in priority order.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/semidx/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(driftCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(statusCmd)
}

// app bundles the wired components a command needs.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	provider  embeddings.Provider
	store     vectorstore.Store
	engine    *search.Engine
	pipeline  *ingest.Pipeline
	staleness *reliability.StalenessDetector
	drift     *reliability.DriftDetector
	manager   *reindex.Manager
}

// buildApp loads configuration and wires every component.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	base, err := embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("initializing embedding provider: %w", err)
	}
	provider := embeddings.Instrument(base, embeddings.NewMetrics(logger))

	store, err := vectorstore.NewStore(cfg.VectorStore, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}

	engine, err := search.NewEngine(provider, store, cfg.Search, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing search engine: %w", err)
	}

	pipeline, err := ingest.NewPipeline(provider, store, nil, cfg.EmbeddingVersion(), cfg.Ingest, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing ingestion pipeline: %w", err)
	}

	staleness, err := reliability.NewStalenessDetector(store, cfg.StalenessConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("initializing staleness detector: %w", err)
	}

	drift, err := reliability.NewDriftDetector(store, cfg.Drift, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing drift detector: %w", err)
	}

	manager, err := reindex.NewManager(provider, store, staleness, cfg.EmbeddingVersion(), cfg.Reindex, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing reindex manager: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		store:     store,
		engine:    engine,
		pipeline:  pipeline,
		staleness: staleness,
		drift:     drift,
		manager:   manager,
	}, nil
}

// close releases the app's resources in reverse dependency order.
func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing vector store", zap.Error(err))
	}
	if err := a.provider.Close(); err != nil {
		a.logger.Warn("closing embedding provider", zap.Error(err))
	}
	_ = a.logger.Sync()
}
