// Package api provides the HTTP API for WayForge.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/wayforge/wayforge/internal/api/handler"
	"github.com/wayforge/wayforge/internal/api/middleware"
	"github.com/wayforge/wayforge/internal/provider/resilience"
	"github.com/wayforge/wayforge/internal/transit"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	// CORSOrigins lists allowed browser origins; empty disables CORS.
	CORSOrigins []string

	// RateLimitPerMinute limits optimizations per client IP (default: 60).
	RateLimitPerMinute int

	RequireTLS bool

	Optimizer handler.Optimizer
	Catalog   *transit.Catalog
	Stops     interface {
		handler.StopLocator
		handler.StopCache
	}
	Signals  handler.SignalStats
	Geocoder handler.Resolver
	History  handler.ResultStore
	Recorder handler.RecorderStats
	Registry *resilience.Registry
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID) // Generate/propagate request ID first
	r.Use(middleware.Tracing)   // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	if len(cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORSOrigins))
	}
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Stops:     cfg.Stops,
		Signals:   cfg.Signals,
		Registry:  cfg.Registry,
		Recorder:  cfg.Recorder,
	})
	optimizeHandler := handler.NewOptimizeHandler(cfg.Optimizer, cfg.Geocoder, cfg.History)
	catalogHandler := handler.NewCatalogHandler(cfg.Catalog, cfg.Stops, cfg.Signals)

	optimizeRateLimit := middleware.RateLimitByIP(middleware.PerMinute(cfg.RateLimitPerMinute, middleware.OptimizeRateLimit))
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)

	// Ops endpoints sit outside /v1 for probes.
	r.Get("/healthz", opsHandler.HealthCheck)
	r.Get("/readyz", opsHandler.ReadinessCheck)
	r.Get("/status", opsHandler.SystemStatus)

	r.Route("/v1", func(r chi.Router) {
		r.With(optimizeRateLimit, middleware.RequireJSON).Post("/routes:optimize", optimizeHandler.Optimize)

		r.Group(func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/optimizations/{id}", optimizeHandler.GetOptimization)
			r.Get("/modes", catalogHandler.ListModes)
			r.Get("/stops", catalogHandler.ListStops)
			r.Get("/signals", catalogHandler.Signals)
		})
	})

	return r
}
