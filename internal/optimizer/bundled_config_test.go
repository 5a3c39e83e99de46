package optimizer_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayforge/wayforge/internal/candidate"
	"github.com/wayforge/wayforge/internal/config"
	"github.com/wayforge/wayforge/internal/livesignal"
	"github.com/wayforge/wayforge/internal/optimizer"
	"github.com/wayforge/wayforge/internal/scoring"
	"github.com/wayforge/wayforge/internal/static"
	"github.com/wayforge/wayforge/internal/transit"
)

// newBundledOptimizer wires the optimizer the way cmd/api does without
// external services: built-in engine tuning, bundled tariffs and stops.
func newBundledOptimizer(t *testing.T) *optimizer.Optimizer {
	t.Helper()
	engine, err := config.LoadEngine("")
	require.NoError(t, err)
	catalog, err := transit.LoadCatalog("")
	require.NoError(t, err)
	stops, err := static.LoadStops("")
	require.NoError(t, err)

	stopService := static.NewService(static.ServiceConfig{
		Repository: static.NewMemoryRepository(stops...),
		Catalog:    catalog,
		Logger:     zerolog.Nop(),
	})
	gen, err := candidate.NewGenerator(engine.GeneratorConfig(catalog, stopService, zerolog.Nop()))
	require.NoError(t, err)
	scorer, err := scoring.NewEngine(engine.ScoringConfig())
	require.NoError(t, err)

	agg := livesignal.NewAggregator(engine.AggregatorConfig(zerolog.Nop()))
	o, err := optimizer.New(optimizer.Config{
		Generator: gen,
		Scoring:   scorer,
		Catalog:   catalog,
		Live:      agg,
		Clock:     func() time.Time { return now },
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return o
}

func TestBundledConfig_BalancedScenario(t *testing.T) {
	o := newBundledOptimizer(t)
	req := optimizer.Request{
		Source:      mgRoad,
		Destination: koramangala,
		Strategy:    scoring.StrategyBalanced,
		Modes:       scenario,
	}

	res, err := o.Optimize(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Options, 3, "excluded: %+v", res.Excluded)
	assert.Empty(t, res.Excluded)

	fares := map[transit.Mode]float64{}
	for _, opt := range res.Options {
		fares[opt.Candidate.Mode] = opt.Candidate.Fare.Amount
		assert.Equal(t, candidate.FreshnessFallback, opt.Candidate.Freshness)
	}
	assert.Less(t, fares[transit.BusOrdinary], fares[transit.MetroToken])
	assert.Less(t, fares[transit.MetroToken], fares[transit.Taxi])

	again, err := o.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, optionModes(res), optionModes(again))
}

func TestBundledConfig_WalkingTooFar(t *testing.T) {
	o := newBundledOptimizer(t)

	res, err := o.Optimize(context.Background(), optimizer.Request{
		Source:      mgRoad,
		Destination: transit.Location{Lat: 13.0946, Lon: 77.5946},
		Modes:       []transit.Mode{transit.Walking},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Options)
	require.Len(t, res.Excluded, 1)
	assert.Equal(t, candidate.ReasonDistanceExceedsMode, res.Excluded[0].Reason)
}

func TestBundledConfig_FastestExtreme(t *testing.T) {
	o := newBundledOptimizer(t)

	res, err := o.Optimize(context.Background(), optimizer.Request{
		Source:      mgRoad,
		Destination: koramangala,
		Strategy:    scoring.StrategyFastest,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Options)

	top := res.Options[0].Candidate
	for _, opt := range res.Options[1:] {
		assert.LessOrEqual(t, top.EffectiveDurationMin(), opt.Candidate.EffectiveDurationMin())
	}
}
