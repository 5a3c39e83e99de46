package optimizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wayforge/wayforge/internal/candidate"
	"github.com/wayforge/wayforge/internal/livesignal"
	"github.com/wayforge/wayforge/internal/scoring"
	"github.com/wayforge/wayforge/internal/transit"
)

const instrumentationName = "github.com/wayforge/wayforge/internal/optimizer"

// LiveSource hands out frozen views of the live signal store.
type LiveSource interface {
	Snapshot() *livesignal.View
}

// PlaceNamer turns coordinates into display names.
type PlaceNamer interface {
	Describe(ctx context.Context, loc transit.Location) (string, error)
}

// Recorder stores results after they are returned. Implementations must
// not block.
type Recorder interface {
	Record(result *Result)
}

// Config holds configuration for the optimizer.
type Config struct {
	// Generator builds candidates (required).
	Generator *candidate.Generator

	// Scoring scores candidates (required).
	Scoring *scoring.Engine

	// Catalog is used for service area diagnostics (required).
	Catalog *transit.Catalog

	// Live provides live conditions. Without it every candidate uses the
	// static schedule.
	Live LiveSource

	// Places fills in missing display names. Failures are ignored.
	Places PlaceNamer

	// PlaceTimeout bounds each place name lookup (default: 300ms).
	PlaceTimeout time.Duration

	// History receives every result.
	History Recorder

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	Logger zerolog.Logger
}

// Optimizer ranks ways of making a trip. Each call is independent; the only
// shared state is the live store, read through one snapshot per call.
type Optimizer struct {
	generator    *candidate.Generator
	scoring      *scoring.Engine
	catalog      *transit.Catalog
	live         LiveSource
	places       PlaceNamer
	placeTimeout time.Duration
	history      Recorder
	clock        func() time.Time
	logger       zerolog.Logger

	tracer     trace.Tracer
	requests   metric.Int64Counter
	exclusions metric.Int64Counter
	fallbacks  metric.Int64Counter
	latency    metric.Float64Histogram
}

// New creates an optimizer.
func New(cfg Config) (*Optimizer, error) {
	if cfg.Generator == nil || cfg.Scoring == nil || cfg.Catalog == nil {
		return nil, errors.New("optimizer: generator, scoring and catalog are required")
	}

	o := &Optimizer{
		generator:    cfg.Generator,
		scoring:      cfg.Scoring,
		catalog:      cfg.Catalog,
		live:         cfg.Live,
		places:       cfg.Places,
		placeTimeout: cfg.PlaceTimeout,
		history:      cfg.History,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		tracer:       otel.Tracer(instrumentationName),
	}
	if o.placeTimeout <= 0 {
		o.placeTimeout = 300 * time.Millisecond
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	if err := o.initMetrics(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Optimizer) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	var err error

	o.requests, err = meter.Int64Counter(
		"optimizer.requests.total",
		metric.WithDescription("Optimization requests by strategy and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	o.exclusions, err = meter.Int64Counter(
		"optimizer.exclusions.total",
		metric.WithDescription("Modes excluded from results by reason"),
		metric.WithUnit("{mode}"),
	)
	if err != nil {
		return err
	}

	o.fallbacks, err = meter.Int64Counter(
		"optimizer.fallback_candidates.total",
		metric.WithDescription("Candidates built without live data"),
		metric.WithUnit("{candidate}"),
	)
	if err != nil {
		return err
	}

	o.latency, err = meter.Float64Histogram(
		"optimizer.duration",
		metric.WithDescription("Optimization latency"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500),
	)
	return err
}

// Optimize ranks the requested modes for a trip. Only an invalid location,
// an unknown strategy or an unknown mode is an error; every other problem
// degrades to a partial or empty result with exclusions and diagnostics.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	start := o.clock()
	strategy := req.Strategy
	if strategy == "" {
		strategy = scoring.StrategyBalanced
	}

	ctx, span := o.tracer.Start(ctx, "optimizer.Optimize", trace.WithAttributes(
		attribute.String("strategy", string(strategy)),
		attribute.Int("modes", len(req.Modes)),
	))
	defer span.End()

	result, err := o.optimize(ctx, req, strategy)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "rejected"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !result.Viable():
		outcome = "empty"
	}
	attrs := metric.WithAttributes(
		attribute.String("strategy", string(strategy)),
		attribute.String("outcome", outcome),
	)
	if o.requests != nil {
		o.requests.Add(ctx, 1, attrs)
	}
	if o.latency != nil {
		o.latency.Record(ctx, float64(o.clock().Sub(start).Microseconds())/1000, attrs)
	}
	if err != nil {
		return nil, err
	}

	if o.history != nil {
		o.history.Record(result)
	}
	return result, nil
}

func (o *Optimizer) optimize(ctx context.Context, req Request, strategy scoring.Strategy) (*Result, error) {
	if err := req.Source.Validate(); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if err := req.Destination.Validate(); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if _, err := o.scoring.Weights(strategy); err != nil {
		return nil, err
	}

	var live candidate.LiveConditions
	var liveAsOf time.Time
	if o.live != nil {
		if view := o.live.Snapshot(); view != nil {
			live = view
			liveAsOf = view.Now()
		}
	}

	source, destination := req.Source, req.Destination
	var names sync.WaitGroup
	if o.places != nil {
		names.Add(2)
		go func() { defer names.Done(); source = o.name(ctx, source) }()
		go func() { defer names.Done(); destination = o.name(ctx, destination) }()
	}

	gen, err := o.generator.Generate(ctx, candidate.Input{
		Origin:      req.Source,
		Destination: req.Destination,
		Modes:       req.Modes,
		Live:        live,
	})
	names.Wait()
	if err != nil {
		return nil, err
	}

	scored, err := o.scoring.Score(gen.Candidates, strategy)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ID:          uuid.New(),
		Strategy:    strategy,
		Source:      source,
		Destination: destination,
		Options:     make([]Option, len(scored)),
		Excluded:    gen.Excluded,
		LiveAsOf:    liveAsOf,
		GeneratedAt: o.clock().UTC(),
	}
	if result.Excluded == nil {
		result.Excluded = []candidate.Exclusion{}
	}
	for i, s := range scored {
		result.Options[i] = Option{Rank: i + 1, Scored: s, Explanation: scoring.Explain(s)}
	}
	result.Diagnostics = o.diagnose(req, gen)

	o.record(ctx, result, gen)
	return result, nil
}

// Explain describes how an option got its composite score.
func (o *Optimizer) Explain(opt Option) scoring.Explanation {
	return scoring.Explain(opt.Scored)
}

func (o *Optimizer) diagnose(req Request, gen candidate.Generation) []Diagnostic {
	var diags []Diagnostic

	var outside []string
	if !o.catalog.InServiceArea(req.Source) {
		outside = append(outside, "source")
	}
	if !o.catalog.InServiceArea(req.Destination) {
		outside = append(outside, "destination")
	}
	if len(outside) > 0 {
		diags = append(diags, Diagnostic{
			Code:    DiagnosticOutsideServiceArea,
			Message: strings.Join(outside, " and ") + " outside the Bangalore service area; only active modes are available",
		})
	}

	if len(gen.Candidates) > 0 && !lo.ContainsBy(gen.Candidates, func(c candidate.Candidate) bool {
		return c.Freshness == candidate.FreshnessLive
	}) {
		diags = append(diags, Diagnostic{
			Code:    DiagnosticNoLiveData,
			Message: "no fresh live data for this trip; durations and fares use the static schedule",
		})
	}

	if len(gen.Candidates) == 0 {
		reasons := lo.Uniq(lo.Map(gen.Excluded, func(e candidate.Exclusion, _ int) string { return string(e.Reason) }))
		msg := "no requested mode can make this trip"
		if len(reasons) > 0 {
			msg += " (" + strings.Join(reasons, ", ") + ")"
		}
		diags = append(diags, Diagnostic{Code: DiagnosticNoViableCandidates, Message: msg})
	}
	return diags
}

func (o *Optimizer) name(ctx context.Context, loc transit.Location) transit.Location {
	if loc.Name != "" {
		return loc
	}
	ctx, cancel := context.WithTimeout(ctx, o.placeTimeout)
	defer cancel()

	name, err := o.places.Describe(ctx, loc)
	if err != nil {
		o.logger.Debug().Err(err).Msg("place name lookup failed")
		return loc
	}
	loc.Name = name
	return loc
}

func (o *Optimizer) record(ctx context.Context, result *Result, gen candidate.Generation) {
	for _, e := range gen.Excluded {
		if o.exclusions != nil {
			o.exclusions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(e.Reason))))
		}
	}
	fallback := lo.CountBy(gen.Candidates, func(c candidate.Candidate) bool {
		return c.Freshness == candidate.FreshnessFallback
	})
	if o.fallbacks != nil && fallback > 0 {
		o.fallbacks.Add(ctx, int64(fallback))
	}

	event := o.logger.Debug().
		Str("optimization_id", result.ID.String()).
		Str("strategy", string(result.Strategy)).
		Int("options", len(result.Options)).
		Int("excluded", len(result.Excluded)).
		Int("fallback", fallback)
	if best, ok := result.Best(); ok {
		event = event.Str("best_mode", best.Candidate.Mode.String()).Float64("best_score", best.Composite)
	}
	event.Msg("optimization complete")
}
