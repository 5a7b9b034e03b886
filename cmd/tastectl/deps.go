package main

import (
	"context"
	"fmt"
	"log/slog"

	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"golang.org/x/time/rate"

	"github.com/turri/tastehub/internal/config"
	"github.com/turri/tastehub/internal/googleai"
	"github.com/turri/tastehub/internal/openai"
	"github.com/turri/tastehub/internal/repository"
	"github.com/turri/tastehub/internal/service"
	"github.com/turri/tastehub/pkg/database"
)

// deps are the services a maintenance command runs. Metrics are not recorded from the CLI.
type deps struct {
	db      *pgxpool.Pool
	refresh *service.ProfileRefreshService
	catalog *service.CatalogService
}

func (d *deps) close() {
	d.db.Close()
}

func newOracle(ctx context.Context, cfg *config.Config) (service.Oracle, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderGoogle:
		client, err := googleai.NewClient(ctx, cfg.EmbeddingProviderAPIKey,
			googleai.WithDimensions(cfg.EmbeddingDimensions),
			googleai.WithEmbeddingModel(cfg.EmbeddingModel),
			googleai.WithGenerationModel(cfg.FusionModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create google oracle: %w", err)
		}

		return client, nil
	case config.ProviderOpenAI:
		return openai.NewClient(cfg.EmbeddingProviderAPIKey,
			openai.WithDimensions(cfg.EmbeddingDimensions),
			openai.WithEmbeddingModel(cfg.EmbeddingModel),
			openai.WithChatModel(cfg.FusionModel),
		), nil
	default:
		slog.Warn("oracles disabled: EMBEDDING_PROVIDER unset; only catalog taste can succeed")

		return service.UnavailableOracle{}, nil
	}
}

func newDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	oracle, err := newOracle(ctx, cfg)
	if err != nil {
		return nil, err
	}

	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL,
		database.WithAfterConnect(pgxvec.RegisterTypes),
		//nolint:gosec // G115: bounded to int32 in config.Load
		database.WithMaxConns(int32(cfg.DatabaseMaxConns)),
	)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	settings := service.BreakerSettings{
		//nolint:gosec // G115: validated positive in config.Load
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		OpenTimeout:      cfg.BreakerOpenTimeout,
	}
	embedder := service.NewBreakerEmbedder(oracle, settings)

	catalogRepo := repository.NewCatalogRepository(db)

	profiles := service.NewProfileService(service.ProfileServiceParams{
		Repo:          repository.NewProfilesRepository(db),
		Products:      catalogRepo,
		Buyers:        repository.NewOrdersRepository(db),
		Embedder:      embedder,
		Fuser:         service.NewBreakerTextFuser(oracle, settings),
		OracleTimeout: cfg.OracleTimeout,
		MaxAttempts:   cfg.ProfileUpdateMaxAttempts,
	})

	return &deps{
		db: db,
		refresh: service.NewProfileRefreshService(service.ProfileRefreshServiceParams{
			Orders:        repository.NewOrdersRepository(db),
			PageViews:     repository.NewPageViewsRepository(db),
			Catalog:       catalogRepo,
			Profiles:      profiles,
			Summarizer:    service.NewBreakerSummarizer(oracle, settings),
			Limiter:       rate.NewLimiter(rate.Limit(cfg.RefreshRateLimit), 1),
			OracleTimeout: cfg.OracleTimeout,
		}),
		catalog: service.NewCatalogService(service.CatalogServiceParams{
			Store:          catalogRepo,
			TxManager:      manager.Must(trmpgx.NewDefaultFactory(db)),
			Embedder:       embedder,
			EmbedBatchSize: cfg.CatalogEmbedBatchSize,
			OracleTimeout:  cfg.OracleTimeout,
		}),
	}, nil
}
