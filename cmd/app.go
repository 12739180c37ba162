package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papyr-ai/papyr/db"
	"github.com/papyr-ai/papyr/internal/config"
	"github.com/papyr-ai/papyr/internal/embed"
	"github.com/papyr-ai/papyr/internal/generate"
	"github.com/papyr-ai/papyr/internal/pipeline"
	"github.com/papyr-ai/papyr/internal/provider"
	"github.com/papyr-ai/papyr/internal/retrieval"
	"github.com/papyr-ai/papyr/internal/store"
)

// app bundles the wired components every command needs. Close releases
// the database pool.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	pool         *pgxpool.Pool
	store        *store.Store
	embedGateway *embed.Gateway
	genGateway   *generate.Gateway
	ranker       *retrieval.Ranker
	orchestrator *pipeline.Orchestrator
}

// setup loads configuration, runs migrations, and wires the pipeline.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfigDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()
	logger.Debug("configuration loaded", "config", cfg)

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := store.NewPool(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	st := store.New(pool, logger)

	registry := provider.NewRegistry()

	embedder, err := registry.Embedder(provider.Config{
		Provider: cfg.EmbedProvider,
		Model:    cfg.EmbedModel,
		APIKey:   cfg.EmbedAPIKey,
		Endpoint: cfg.EmbedEndpoint,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	embedOpts := []embed.Option{
		embed.WithBatchSize(cfg.EmbedBatch),
		embed.WithWorkers(cfg.EmbedWorkers),
	}
	if cfg.EmbedRPS > 0 {
		embedOpts = append(embedOpts, embed.WithRateLimit(cfg.EmbedRPS, cfg.EmbedBatch))
	}
	embedGateway := embed.NewGateway(embedder, logger, embedOpts...)

	generator, err := registry.Generator(provider.Config{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
		Endpoint: cfg.LLMEndpoint,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	genGateway, err := generate.NewGateway(generator, logger, generate.WithParams(provider.Params{
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
	}))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating generation gateway: %w", err)
	}

	ranker, err := retrieval.NewRanker(embedGateway, st, logger, retrieval.WithTopK(cfg.TopK))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating ranker: %w", err)
	}

	orchestrator, err := pipeline.New(pipeline.Config{
		Provider:     cfg.EmbedProvider,
		Model:        cfg.EmbedModel,
		CorpusDir:    cfg.CorpusDir,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	}, embedGateway, st, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	if err := orchestrator.Init(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("checking index freshness: %w", err)
	}

	return &app{
		cfg:          cfg,
		logger:       logger,
		pool:         pool,
		store:        st,
		embedGateway: embedGateway,
		genGateway:   genGateway,
		ranker:       ranker,
		orchestrator: orchestrator,
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}
