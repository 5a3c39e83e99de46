package candidate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/wayforge/wayforge/internal/fare"
	"github.com/wayforge/wayforge/internal/livesignal"
	"github.com/wayforge/wayforge/internal/transit"
)

// LiveConditions answers live lookups for one request. A livesignal.View
// satisfies it.
type LiveConditions interface {
	ConditionsAlong(ctx context.Context, m transit.Mode, path []transit.Location) (livesignal.Conditions, error)
}

// StopFinder finds boarding points near a location.
type StopFinder interface {
	StopsNear(ctx context.Context, near transit.Location, radiusKm float64) ([]transit.Stop, error)
}

// DefaultCongestionFactors is the extra travel time, as a fraction of the
// nominal duration, per congestion level on road modes.
func DefaultCongestionFactors() map[livesignal.Congestion]float64 {
	return map[livesignal.Congestion]float64{
		livesignal.CongestionLight:    0.05,
		livesignal.CongestionModerate: 0.2,
		livesignal.CongestionHeavy:    0.45,
		livesignal.CongestionSevere:   0.8,
	}
}

// Config holds configuration for the generator.
type Config struct {
	// Catalog is the static mode catalog (required).
	Catalog *transit.Catalog

	// Fares quotes fares. Defaults to a registry over Catalog.
	Fares *fare.Registry

	// Distance computes trip distances. Defaults to the circuity estimate.
	Distance DistanceProvider

	// Stops, when set, enables the stop access check for bus and metro.
	Stops StopFinder

	// LiveTimeout bounds each live or stop lookup (default: 500ms).
	// A timeout is treated as missing data.
	LiveTimeout time.Duration

	// DistanceTimeout bounds each distance lookup (default: 1s). On timeout
	// the circuity estimate is used.
	DistanceTimeout time.Duration

	// Concurrency bounds how many modes are built at once (default: 4).
	Concurrency int

	// CongestionFactors overrides DefaultCongestionFactors.
	CongestionFactors map[livesignal.Congestion]float64

	// CircuityTiers configures the fallback distance estimate.
	CircuityTiers []CircuityTier

	// CorridorPoints is how many points along the path are searched for
	// traffic (default: 5).
	CorridorPoints int

	Logger zerolog.Logger
}

// Generator builds candidates. It is safe for concurrent use.
type Generator struct {
	catalog         *transit.Catalog
	fares           *fare.Registry
	distance        DistanceProvider
	estimate        *CircuityDistance
	stops           StopFinder
	liveTimeout     time.Duration
	distanceTimeout time.Duration
	concurrency     int
	congestion      map[livesignal.Congestion]float64
	corridorPoints  int
	logger          zerolog.Logger
}

// NewGenerator creates a generator.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("candidate: catalog is required")
	}

	estimate, err := NewCircuityDistance(cfg.CircuityTiers)
	if err != nil {
		return nil, err
	}

	g := &Generator{
		catalog:         cfg.Catalog,
		fares:           cfg.Fares,
		distance:        cfg.Distance,
		estimate:        estimate,
		stops:           cfg.Stops,
		liveTimeout:     cfg.LiveTimeout,
		distanceTimeout: cfg.DistanceTimeout,
		concurrency:     cfg.Concurrency,
		congestion:      cfg.CongestionFactors,
		corridorPoints:  cfg.CorridorPoints,
		logger:          cfg.Logger,
	}
	if g.fares == nil {
		g.fares = fare.NewRegistry(cfg.Catalog)
	}
	if g.distance == nil {
		g.distance = estimate
	}
	if g.liveTimeout <= 0 {
		g.liveTimeout = 500 * time.Millisecond
	}
	if g.distanceTimeout <= 0 {
		g.distanceTimeout = time.Second
	}
	if g.concurrency <= 0 {
		g.concurrency = 4
	}
	if g.congestion == nil {
		g.congestion = DefaultCongestionFactors()
	}
	if g.corridorPoints < 2 {
		g.corridorPoints = 5
	}
	return g, nil
}

// Input is one generation request.
type Input struct {
	Origin      transit.Location
	Destination transit.Location

	// Modes to consider; empty means every mode.
	Modes []transit.Mode

	// Live is the frozen live view for this request; nil means none.
	Live LiveConditions
}

type outcome struct {
	candidate *Candidate
	excluded  *Exclusion
}

// Generate builds a candidate or an exclusion for each requested mode.
// Modes are processed concurrently; the only error is the caller's context
// being done.
func (g *Generator) Generate(ctx context.Context, in Input) (Generation, error) {
	modes := normalizeModes(in.Modes)
	for _, m := range modes {
		if !m.Valid() {
			return Generation{}, fmt.Errorf("%w: %d", transit.ErrUnknownMode, int(m))
		}
	}

	outcomes := make([]outcome, len(modes))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, m := range modes {
		eg.Go(func() error {
			o, err := g.build(egCtx, in, m)
			if err != nil {
				return err
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Generation{}, err
	}

	var gen Generation
	for _, o := range outcomes {
		switch {
		case o.candidate != nil:
			gen.Candidates = append(gen.Candidates, *o.candidate)
		case o.excluded != nil:
			gen.Excluded = append(gen.Excluded, *o.excluded)
		}
	}
	return gen, nil
}

func normalizeModes(modes []transit.Mode) []transit.Mode {
	if len(modes) == 0 {
		return transit.AllModes()
	}
	out := lo.Uniq(modes)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Generator) build(ctx context.Context, in Input, m transit.Mode) (outcome, error) {
	if err := ctx.Err(); err != nil {
		return outcome{}, err
	}
	p := g.catalog.Profile(m)

	if p.ServiceArea && !(g.catalog.InServiceArea(in.Origin) && g.catalog.InServiceArea(in.Destination)) {
		return g.exclude(m, ReasonOutOfBounds, fmt.Sprintf("%s only serves trips inside the service area", m)), nil
	}

	dist := g.tripDistance(ctx, m, in.Origin, in.Destination)
	if err := ctx.Err(); err != nil {
		return outcome{}, err
	}
	if p.MaxDistanceKm > 0 && dist.Km > p.MaxDistanceKm {
		return g.exclude(m, ReasonDistanceExceedsMode,
			fmt.Sprintf("%.1f km exceeds the %.1f km limit for %s", dist.Km, p.MaxDistanceKm, m)), nil
	}

	if reason, ok := g.checkStopAccess(ctx, m, p, in); !ok {
		return g.exclude(m, ReasonOutOfBounds, reason), nil
	}

	c := Candidate{
		Mode:               m,
		DistanceKm:         dist.Km,
		DistanceSource:     dist.Source,
		NominalDurationMin: dist.Km / p.AverageSpeedKmh * 60,
		EcoRating:          p.EcoRating,
		ComfortRating:      p.ComfortRating,
		Freshness:          FreshnessFallback,
		Geometry:           encodeGeometry(dist.Geometry),
	}

	surge := 1.0
	if cond, ok := g.lookupLive(ctx, m, in.Live, dist.Geometry); ok {
		c.Freshness = FreshnessLive
		c.FeedDelayMin = cond.DelayMin
		c.Occupancy = cond.Occupancy
		c.Congestion = cond.Congestion
		c.Signals = cond.Signals
		if roadBound(m) {
			c.CongestionAdjustmentMin = g.congestion[cond.Congestion] * c.NominalDurationMin
		}
		c.AppliedDelayMin = c.FeedDelayMin + c.CongestionAdjustmentMin
		surge = cond.Surge
	}
	if err := ctx.Err(); err != nil {
		return outcome{}, err
	}

	if p.RequiresLive && c.Freshness != FreshnessLive {
		return g.exclude(m, ReasonNoLiveData, fmt.Sprintf("%s requires live data and none is fresh", m)), nil
	}

	c.Fare = g.fares.FareWithSurge(m, c.DistanceKm, c.EffectiveDurationMin(), surge)
	return outcome{candidate: &c}, nil
}

func (g *Generator) exclude(m transit.Mode, reason Reason, detail string) outcome {
	g.logger.Debug().
		Str("mode", m.String()).
		Str("reason", string(reason)).
		Msg(detail)
	return outcome{excluded: &Exclusion{Mode: m, Reason: reason, Detail: detail}}
}

func (g *Generator) tripDistance(ctx context.Context, m transit.Mode, a, b transit.Location) Distance {
	d, err := bounded(ctx, g.distanceTimeout, func(ctx context.Context) (Distance, error) {
		return g.distance.Distance(ctx, m, a, b)
	})
	if err != nil || d.Km < 0 || math.IsNaN(d.Km) {
		d, _ = g.estimate.Distance(ctx, m, a, b)
	}
	return d
}

// checkStopAccess reports false with a reason when a stop-based mode has no
// stop near either endpoint. Lookup failures skip the check.
func (g *Generator) checkStopAccess(ctx context.Context, m transit.Mode, p transit.Profile, in Input) (string, bool) {
	if g.stops == nil || p.AccessRadiusKm <= 0 {
		return "", true
	}

	for _, end := range []struct {
		name string
		loc  transit.Location
	}{{"origin", in.Origin}, {"destination", in.Destination}} {
		stops, err := bounded(ctx, g.liveTimeout, func(ctx context.Context) ([]transit.Stop, error) {
			return g.stops.StopsNear(ctx, end.loc, p.AccessRadiusKm)
		})
		if err != nil {
			g.logger.Debug().Err(err).Str("mode", m.String()).Msg("stop lookup failed, skipping access check")
			return "", true
		}
		if !lo.ContainsBy(stops, func(s transit.Stop) bool { return s.Serves(m) }) {
			return fmt.Sprintf("no %s stop within %.1f km of the %s", m, p.AccessRadiusKm, end.name), false
		}
	}
	return "", true
}

func (g *Generator) lookupLive(ctx context.Context, m transit.Mode, live LiveConditions, geometry []transit.Location) (livesignal.Conditions, bool) {
	if live == nil || len(livesignal.FeedsFor(m)) == 0 {
		return livesignal.Conditions{}, false
	}
	path := corridor(geometry, g.corridorPoints)
	cond, err := bounded(ctx, g.liveTimeout, func(ctx context.Context) (livesignal.Conditions, error) {
		return live.ConditionsAlong(ctx, m, path)
	})
	if err != nil {
		if !errors.Is(err, livesignal.ErrNoLiveSignal) {
			g.logger.Debug().Err(err).Str("mode", m.String()).Msg("live lookup failed, using fallback")
		}
		return livesignal.Conditions{}, false
	}
	return cond, true
}

func roadBound(m transit.Mode) bool {
	switch m.Category() {
	case transit.CategoryBus, transit.CategoryRideHail:
		return true
	case transit.CategoryMetro, transit.CategoryActive:
		return false
	default:
		return false
	}
}

// bounded runs fn with a deadline and returns as soon as the deadline
// passes, even if fn ignores its context.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
