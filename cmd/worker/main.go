// Package main provides the live feed worker: it polls the configured feeds
// and publishes normalized records to Pub/Sub for the API instances.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wayforge/wayforge/internal/api/middleware"
	"github.com/wayforge/wayforge/internal/api/models"
	"github.com/wayforge/wayforge/internal/api/response"
	"github.com/wayforge/wayforge/internal/config"
	"github.com/wayforge/wayforge/internal/feed"
	"github.com/wayforge/wayforge/internal/livesignal"
	"github.com/wayforge/wayforge/internal/provider/resilience"
	"github.com/wayforge/wayforge/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "wayforge-worker"

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
	log.Info().Str("build_time", BuildTime).Msg("starting WayForge worker")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("worker failed")
	}
	log.Info().Msg("worker stopped")
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PubSubProject == "" {
		return errors.New("PUBSUB_PROJECT_ID is required")
	}
	if len(cfg.FeedSources) == 0 {
		return errors.New("FEED_SOURCES is required")
	}

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

	publisher, err := feed.NewPublisher(ctx, feed.PublisherConfig{
		ProjectID: cfg.PubSubProject,
		Topic:     cfg.PubSubTopic,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close publisher")
		}
	}()

	sources := make([]feed.Source, 0, len(cfg.FeedSources))
	for _, s := range cfg.FeedSources {
		format, err := feed.ParseFormat(s.Format)
		if err != nil {
			return err
		}
		sources = append(sources, feed.Source{Feed: livesignal.Feed(s.Feed), Format: format, URL: s.URL})
	}

	registry := resilience.NewRegistry()
	poller, err := feed.NewPoller(feed.PollerConfig{
		Sources:  sources,
		Sink:     publisher,
		Interval: cfg.PollInterval,
		Registry: registry,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	// Cloud Run needs an HTTP port even for workers.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, models.Health{
			Status: models.HealthStatusOK,
			Time:   models.Timestamp(time.Now()),
			Details: map[string]any{
				"version": Version,
				"poller":  poller.Metrics(),
				"feeds":   registry.GetAllHealth(),
			},
		})
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	log.Info().
		Int("sources", len(sources)).
		Dur("interval", cfg.PollInterval).
		Str("topic", cfg.PubSubTopic).
		Msg("polling live feeds")
	poller.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
