// Package main provides the entrypoint for the WayForge API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/wayforge/wayforge/internal/api"
	"github.com/wayforge/wayforge/internal/api/middleware"
	"github.com/wayforge/wayforge/internal/candidate"
	"github.com/wayforge/wayforge/internal/config"
	"github.com/wayforge/wayforge/internal/database"
	"github.com/wayforge/wayforge/internal/feed"
	"github.com/wayforge/wayforge/internal/geocode"
	"github.com/wayforge/wayforge/internal/history"
	"github.com/wayforge/wayforge/internal/livesignal"
	"github.com/wayforge/wayforge/internal/optimizer"
	"github.com/wayforge/wayforge/internal/provider/resilience"
	"github.com/wayforge/wayforge/internal/routing"
	"github.com/wayforge/wayforge/internal/routing/openrouteservice"
	"github.com/wayforge/wayforge/internal/scoring"
	"github.com/wayforge/wayforge/internal/static"
	"github.com/wayforge/wayforge/internal/telemetry"
	"github.com/wayforge/wayforge/internal/transit"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "wayforge-api"

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}

	log := telemetry.NewLogger(telemetry.LoggerConfig{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Level:          cfg.LogLevel,
		Console:        !cfg.IsProduction(),
	})
	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting WayForge API")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api server failed")
	}
	log.Info().Msg("server stopped")
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTELEnabled,
		SampleRatio:    cfg.OTELSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	metrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}

	catalog, err := transit.LoadCatalog(cfg.TariffFile)
	if err != nil {
		return err
	}
	engine, err := config.LoadEngine(cfg.EngineFile)
	if err != nil {
		return err
	}
	log.Info().
		Int("modes", len(transit.AllModes())).
		Bool("custom_tariffs", cfg.TariffFile != "").
		Bool("custom_engine", cfg.EngineFile != "").
		Msg("catalog loaded")

	// Storage: Postgres when DB_HOST is set, memory otherwise.
	var pool *pgxpool.Pool
	if dbConfig := database.ConfigFromEnv(); dbConfig.Enabled() {
		pool, err = database.Connect(ctx, dbConfig)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")
	} else {
		log.Warn().Msg("DB_HOST not set, using in-memory storage")
	}

	stops, err := static.LoadStops(cfg.StopsFile)
	if err != nil {
		return err
	}
	var stopRepo static.Repository = static.NewMemoryRepository(stops...)
	if pool != nil {
		stopRepo = static.NewPostgresRepository(pool)
	}
	stopService := static.NewService(static.ServiceConfig{
		Repository: stopRepo,
		Catalog:    catalog,
		Logger:     log.With().Str("component", "static").Logger(),
	})
	if pool != nil {
		if err := stopService.Import(ctx, stops); err != nil {
			return err
		}
	}

	registry := resilience.NewRegistry()

	// Live signals
	agg := livesignal.NewAggregator(engine.AggregatorConfig(log.With().Str("component", "livesignal").Logger()))
	go agg.RunPruner(ctx, engine.Live.PruneInterval)
	if err := startIngestion(ctx, cfg, agg, registry, log); err != nil {
		return err
	}

	// Candidate generation, with road distances when ORS is configured.
	genConfig := engine.GeneratorConfig(catalog, stopService, log.With().Str("component", "candidate").Logger())
	if cfg.ORSAPIKey != "" {
		estimate, err := candidate.NewCircuityDistance(engine.Distance.Circuity)
		if err != nil {
			return err
		}
		routes := routing.NewService(routing.ServiceConfig{
			Provider: openrouteservice.NewClient(openrouteservice.ClientConfig{
				APIKey:   cfg.ORSAPIKey,
				BaseURL:  cfg.ORSBaseURL,
				Registry: registry,
				Logger:   log,
			}),
			Logger: log.With().Str("component", "routing").Logger(),
		})
		genConfig.Distance = candidate.NewRoadDistance(routes, estimate, log)
		log.Info().Msg("road distances from OpenRouteService")
	}
	gen, err := candidate.NewGenerator(genConfig)
	if err != nil {
		return err
	}
	scorer, err := scoring.NewEngine(engine.ScoringConfig())
	if err != nil {
		return err
	}

	geocoder := geocode.NewClient(geocode.ClientConfig{
		BaseURL:   cfg.NominatimURL,
		UserAgent: cfg.NominatimUserAgent,
		ViewBox:   catalog.ServiceArea(),
		Registry:  registry,
		Logger:    log.With().Str("component", "geocode").Logger(),
	})

	var historyRepo history.Repository = history.NewMemoryRepository(cfg.HistorySize, cfg.HistoryTTL)
	if pool != nil {
		historyRepo = history.NewPostgresRepository(pool)
	}
	recorder := history.NewRecorder(history.RecorderConfig{
		Repository: historyRepo,
		Logger:     log.With().Str("component", "history").Logger(),
	})

	opt, err := optimizer.New(optimizer.Config{
		Generator:    gen,
		Scoring:      scorer,
		Catalog:      catalog,
		Live:         agg,
		Places:       geocoder,
		PlaceTimeout: engine.PlaceTimeout,
		History:      recorder,
		Logger:       log.With().Str("component", "optimizer").Logger(),
	})
	if err != nil {
		return err
	}

	router := api.NewRouter(api.RouterConfig{
		Version:            Version,
		BuildTime:          BuildTime,
		Logger:             log,
		Metrics:            metrics,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		RequireTLS:         os.Getenv("REQUIRE_TLS") == "true",
		Optimizer:          opt,
		Catalog:            catalog,
		Stops:              stopService,
		Signals:            agg,
		Geocoder:           geocoder,
		History:            historyRepo,
		Recorder:           recorder,
		Registry:           registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("history recorder did not drain")
	}
	return nil
}

// startIngestion feeds the aggregator from Pub/Sub when a project is
// configured, otherwise by polling the feeds directly.
func startIngestion(ctx context.Context, cfg config.Config, agg *livesignal.Aggregator, registry *resilience.Registry, log zerolog.Logger) error {
	logger := log.With().Str("component", "feed").Logger()

	if cfg.PubSubProject != "" {
		sub, err := feed.NewSubscriber(ctx, feed.SubscriberConfig{
			ProjectID:        cfg.PubSubProject,
			SubscriptionName: cfg.PubSubSubscription,
			Aggregator:       agg,
			Logger:           logger,
		})
		if err != nil {
			return err
		}
		go func() {
			defer sub.Close()
			if err := sub.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("live signal subscription stopped")
			}
		}()
		logger.Info().Str("subscription", cfg.PubSubSubscription).Msg("receiving live signals from pubsub")
		return nil
	}

	if len(cfg.FeedSources) == 0 {
		logger.Warn().Msg("no live feeds configured, ranking on schedules only")
		return nil
	}
	sources, err := feedSources(cfg.FeedSources)
	if err != nil {
		return err
	}
	poller, err := feed.NewPoller(feed.PollerConfig{
		Sources:  sources,
		Sink:     feed.IngestInto(agg),
		Interval: cfg.PollInterval,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	go poller.Run(ctx)
	logger.Info().Int("sources", len(sources)).Msg("polling live feeds")
	return nil
}

func feedSources(in []config.FeedSource) ([]feed.Source, error) {
	out := make([]feed.Source, 0, len(in))
	for _, s := range in {
		format, err := feed.ParseFormat(s.Format)
		if err != nil {
			return nil, err
		}
		out = append(out, feed.Source{Feed: livesignal.Feed(s.Feed), Format: format, URL: s.URL})
	}
	return out, nil
}
