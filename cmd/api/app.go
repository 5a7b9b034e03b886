package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/turri/tastehub/internal/api"
	"github.com/turri/tastehub/internal/api/handlers"
	"github.com/turri/tastehub/internal/config"
	"github.com/turri/tastehub/internal/googleai"
	"github.com/turri/tastehub/internal/jobs"
	"github.com/turri/tastehub/internal/observability"
	"github.com/turri/tastehub/internal/openai"
	"github.com/turri/tastehub/internal/repository"
	"github.com/turri/tastehub/internal/service"
	"github.com/turri/tastehub/internal/workers"
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	db             *pgxpool.Pool
	server         *http.Server
	river          *river.Client[pgx.Tx]
	meterProvider  *observability.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        *observability.Metrics
}

const riverQueueDepthInterval = 15 * time.Second

// setupMetrics creates meter provider and tastehub metrics when metrics are enabled.
// When NewMeterProvider returns nil (exporter "none"), returns (nil, nil, nil).
func setupMetrics(ctx context.Context, cfg *config.Config) (*observability.MeterProvider, *observability.Metrics, error) {
	mp, err := observability.NewMeterProvider(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create meter provider: %w", err)
	}

	if mp == nil {
		return nil, nil, nil
	}

	metrics, err := observability.NewMetrics(mp.Meter("tastehub"), jobs.QueueProfiles, jobs.QueueCatalog)
	if err != nil {
		if err2 := observability.ShutdownMeterProvider(context.Background(), mp); err2 != nil {
			slog.Error("shutdown meter provider after metrics error", "error", err2)
		}

		return nil, nil, fmt.Errorf("create metrics: %w", err)
	}

	return mp, metrics, nil
}

// newOracle returns the model provider selected by EMBEDDING_PROVIDER. Without one, every oracle
// call fails with service.ErrOracleUnavailable and the endpoints that need it answer 503.
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
		slog.Warn("oracles disabled: EMBEDDING_PROVIDER unset; profile writes and refreshes will answer 503")

		return service.UnavailableOracle{}, nil
	}
}

// oracles are the breaker-guarded model capabilities shared by every service.
type oracles struct {
	embedder   service.Embedder
	fuser      service.TextFuser
	summarizer service.Summarizer
}

func newOracles(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*oracles, error) {
	oracle, err := newOracle(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var (
		oracleMetrics observability.OracleMetrics
		cacheMetrics  observability.CacheMetrics
	)
	if metrics != nil {
		oracleMetrics = metrics.Oracles
		cacheMetrics = metrics.Cache
	}

	settings := service.BreakerSettings{
		//nolint:gosec // G115: validated positive in config.Load
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		OpenTimeout:      cfg.BreakerOpenTimeout,
		Metrics:          oracleMetrics,
	}

	var embedder service.Embedder = service.NewBreakerEmbedder(oracle, settings)

	if cfg.EmbeddingCacheSize > 0 {
		cached, err := service.NewCachedEmbedder(embedder, cfg.EmbeddingCacheSize, cfg.OracleTimeout, cacheMetrics)
		if err != nil {
			return nil, fmt.Errorf("create embedding cache: %w", err)
		}

		embedder = cached
	}

	return &oracles{
		embedder:   embedder,
		fuser:      service.NewBreakerTextFuser(oracle, settings),
		summarizer: service.NewBreakerSummarizer(oracle, settings),
	}, nil
}

// NewApp builds and wires all components. It does not start the HTTP server or River;
// call Run to start and block until shutdown or failure.
func NewApp(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (*App, error) {
	meterProvider, metrics, err := setupMetrics(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if meterProvider == nil {
		slog.Warn("metrics not enabled (OTEL_METRICS_EXPORTER=none)")
	}

	tracerProvider, err := observability.NewTracerProvider(ctx, cfg)
	if err != nil {
		if err2 := observability.ShutdownMeterProvider(context.Background(), meterProvider); err2 != nil {
			slog.Error("shutdown meter provider after tracer provider error", "error", err2)
		}

		return nil, fmt.Errorf("create tracer provider: %w", err)
	}

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
	}

	if meterProvider != nil {
		otel.SetMeterProvider(meterProvider)
	}

	var (
		profileMetrics        observability.ProfileMetrics
		recommendationMetrics observability.RecommendationMetrics
		refreshMetrics        observability.RefreshMetrics
		apiMetrics            observability.APIMetrics
		cacheMetrics          observability.CacheMetrics
	)
	if metrics != nil {
		profileMetrics = metrics.Profiles
		recommendationMetrics = metrics.Recommendations
		refreshMetrics = metrics.Refresh
		apiMetrics = metrics.API
		cacheMetrics = metrics.Cache
	}

	llm, err := newOracles(ctx, cfg, metrics)
	if err != nil {
		_ = shutdownObservability(context.Background(), tracerProvider, meterProvider)

		return nil, err
	}

	catalogRepo := repository.NewCatalogRepository(db)
	profilesRepo := repository.NewProfilesRepository(db)
	ordersRepo := repository.NewOrdersRepository(db)
	pageViewsRepo := repository.NewPageViewsRepository(db)

	profileService := service.NewProfileService(service.ProfileServiceParams{
		Repo:          profilesRepo,
		Products:      catalogRepo,
		Buyers:        ordersRepo,
		Embedder:      llm.embedder,
		Fuser:         llm.fuser,
		OracleTimeout: cfg.OracleTimeout,
		MaxAttempts:   cfg.ProfileUpdateMaxAttempts,
		Metrics:       profileMetrics,
	})

	recommendationService := service.NewRecommendationService(service.RecommendationServiceParams{
		Catalog:  catalogRepo,
		Profiles: profilesRepo,
		Weights: service.RankingWeights{
			Taste:          cfg.RecommendCategoryWeight,
			Embedding:      cfg.RecommendEmbeddingWeight,
			MissingPenalty: cfg.RecommendMissingPenalty,
		},
		CandidateFactor: cfg.RecommendCandidateFactor,
		MaxK:            cfg.RecommendMaxK,
		ProductStatuses: cfg.RecommendProductStatuses,
		Metrics:         recommendationMetrics,
	})

	refreshService := service.NewProfileRefreshService(service.ProfileRefreshServiceParams{
		Orders:        ordersRepo,
		PageViews:     pageViewsRepo,
		Catalog:       catalogRepo,
		Profiles:      profileService,
		Summarizer:    llm.summarizer,
		Limiter:       rate.NewLimiter(rate.Limit(cfg.RefreshRateLimit), 1),
		OracleTimeout: cfg.OracleTimeout,
		Metrics:       refreshMetrics,
		CacheMetrics:  cacheMetrics,
	})

	catalogService := service.NewCatalogService(service.CatalogServiceParams{
		Store:          catalogRepo,
		TxManager:      manager.Must(trmpgx.NewDefaultFactory(db)),
		Embedder:       llm.embedder,
		EmbedBatchSize: cfg.CatalogEmbedBatchSize,
		OracleTimeout:  cfg.OracleTimeout,
		Metrics:        refreshMetrics,
	})

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewProfileRefreshWorker(refreshService, slog.Default()))
	river.AddWorker(riverWorkers, workers.NewCatalogRefreshWorker(catalogService, slog.Default()))

	riverClient, err := river.NewClient(riverpgxv5.New(db), &river.Config{
		Queues: map[string]river.QueueConfig{
			jobs.QueueProfiles: {MaxWorkers: cfg.RiverProfileWorkers},
			jobs.QueueCatalog:  {MaxWorkers: cfg.RiverCatalogWorkers},
		},
		Workers:      riverWorkers,
		ErrorHandler: &jobs.ErrorHandler{Logger: slog.Default()},
		MaxAttempts:  cfg.RiverMaxAttempts,
		PeriodicJobs: jobs.PeriodicJobs(cfg.RefreshInterval, cfg.RefreshLookback, time.Now),
		Logger:       slog.Default(),
	})
	if err != nil {
		if err2 := shutdownObservability(context.Background(), tracerProvider, meterProvider); err2 != nil {
			slog.Error("shutdown observability after River client error", "error", err2)
		}

		return nil, fmt.Errorf("create River client: %w", err)
	}

	params := api.RouterParams{
		APIKey:              cfg.APIKey,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitRequests:   cfg.RateLimitRequests,
		RateLimitWindow:     cfg.RateLimitWindow,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Health:              handlers.NewHealthHandler(db),
		Profiles:            handlers.NewProfilesHandler(profileService),
		Recommendations:     handlers.NewRecommendationsHandler(recommendationService),
		Admin:               handlers.NewAdminHandler(refreshService, jobs.NewRiverJobInserter(riverClient)),
		BodyTooLarge:        apiMetrics,
		RateLimited:         apiMetrics,
		ServiceName:         cfg.OtelServiceName,
	}

	// Providers are only set when enabled so otelhttp falls back to the globals instead of a typed nil.
	if meterProvider != nil {
		params.MeterProvider = meterProvider
		params.MetricsHandler = meterProvider.Handler
	}

	if tracerProvider != nil {
		params.TracerProvider = tracerProvider
	}

	return &App{
		cfg:            cfg,
		db:             db,
		server:         newHTTPServer(cfg, api.NewRouter(params)),
		river:          riverClient,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		metrics:        metrics,
	}, nil
}

func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	const (
		readTimeout  = 15 * time.Second
		writeTimeout = 60 * time.Second
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts the HTTP server and River, then blocks until ctx is cancelled (e.g. signal)
// or a component fails. When ctx is cancelled or a component fails, it cancels the internal
// River context so River and the queue depth poller stop before Run returns. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	riverCtx, cancelRiver := context.WithCancel(ctx)
	defer cancelRiver()

	if a.metrics != nil && a.metrics.Jobs != nil {
		go runRiverQueueDepthPoller(riverCtx, a.db, a.metrics.Jobs)
	}

	go func() {
		if err := a.river.Start(riverCtx); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case runErr <- fmt.Errorf("river: %w", err):
			default:
			}
		}
	}()

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port, "oracles", a.cfg.OraclesEnabled())

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		cancelRiver()

		return err
	case <-ctx.Done():
		cancelRiver()

		return nil
	}
}

// runRiverQueueDepthPoller periodically updates the depth gauge of every tastehub queue.
func runRiverQueueDepthPoller(ctx context.Context, db *pgxpool.Pool, jobMetrics observability.JobMetrics) {
	ticker := time.NewTicker(riverQueueDepthInterval)
	defer ticker.Stop()

	update := func() {
		for _, queue := range []string{jobs.QueueProfiles, jobs.QueueCatalog} {
			var count int

			err := db.QueryRow(ctx,
				`SELECT COUNT(*) FROM river_job WHERE queue = $1 AND state IN ($2, $3, $4)`,
				queue,
				rivertype.JobStateAvailable, rivertype.JobStateRetryable, rivertype.JobStateScheduled,
			).Scan(&count)
			if err != nil {
				slog.WarnContext(ctx, "river queue depth poll failed", "queue", queue, "error", err)

				continue
			}

			jobMetrics.SetQueueDepth(queue, count)
		}
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// shutdownObservability shuts down tracer and meter providers. Logs secondary errors, returns the first.
func shutdownObservability(ctx context.Context, tracer *sdktrace.TracerProvider, meter *observability.MeterProvider) error {
	var first error

	if err := observability.ShutdownTracerProvider(ctx, tracer); err != nil {
		first = err
	}

	if err := observability.ShutdownMeterProvider(ctx, meter); err != nil {
		if first == nil {
			first = err
		} else {
			slog.Error("shutdown meter provider", "error", err)
		}
	}

	return first
}

// Shutdown stops the server and River in order. Call after Run returns.
// Observability is shut down once via defer; its error is returned only when server and River shut down successfully.
func (a *App) Shutdown(ctx context.Context) (err error) {
	defer func() {
		obsErr := shutdownObservability(ctx, a.tracerProvider, a.meterProvider)
		if err == nil {
			err = obsErr
		} else if obsErr != nil {
			slog.Error("shutdown observability", "error", obsErr)
		}
	}()

	if err = a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if stopErr := a.river.Stop(ctx); stopErr != nil {
			slog.Error("river stop during server shutdown", "error", stopErr)
		}

		return fmt.Errorf("server shutdown: %w", err)
	}

	if err = a.river.Stop(ctx); err != nil {
		return fmt.Errorf("river stop: %w", err)
	}

	return nil
}
