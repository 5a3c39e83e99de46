package optimizer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayforge/wayforge/internal/candidate"
	"github.com/wayforge/wayforge/internal/livesignal"
	"github.com/wayforge/wayforge/internal/optimizer"
	"github.com/wayforge/wayforge/internal/scoring"
	"github.com/wayforge/wayforge/internal/transit"
)

var (
	mgRoad      = transit.Location{Lat: 12.9716, Lon: 77.5946}
	koramangala = transit.Location{Lat: 12.9352, Lon: 77.6245}
	scenario    = []transit.Mode{transit.BusOrdinary, transit.MetroToken, transit.Taxi}
	now         = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
)

type recorder struct {
	mu      sync.Mutex
	results []*optimizer.Result
}

func (r *recorder) Record(res *optimizer.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

type places struct {
	err error
}

func (p places) Describe(_ context.Context, loc transit.Location) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	if loc == mgRoad {
		return "MG Road", nil
	}
	return "Koramangala", nil
}

func newOptimizer(t *testing.T, mutate func(*optimizer.Config)) *optimizer.Optimizer {
	t.Helper()
	catalog := transit.DefaultCatalog()

	gen, err := candidate.NewGenerator(candidate.Config{Catalog: catalog, Logger: zerolog.Nop()})
	require.NoError(t, err)
	engine, err := scoring.NewEngine(scoring.Config{})
	require.NoError(t, err)

	cfg := optimizer.Config{
		Generator: gen,
		Scoring:   engine,
		Catalog:   catalog,
		Clock:     func() time.Time { return now },
		Logger:    zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := optimizer.New(cfg)
	require.NoError(t, err)
	return o
}

func optionModes(res *optimizer.Result) []transit.Mode {
	out := make([]transit.Mode, len(res.Options))
	for i, opt := range res.Options {
		out[i] = opt.Candidate.Mode
	}
	return out
}

func TestOptimize_BalancedScenario(t *testing.T) {
	o := newOptimizer(t, nil)

	res, err := o.Optimize(context.Background(), optimizer.Request{
		Source:      mgRoad,
		Destination: koramangala,
		Strategy:    scoring.StrategyBalanced,
		Modes:       scenario,
	})
	require.NoError(t, err)

	require.Len(t, res.Options, 3)
	assert.Equal(t, []transit.Mode{transit.MetroToken, transit.BusOrdinary, transit.Taxi}, optionModes(res))
	for i, opt := range res.Options {
		assert.Equal(t, i+1, opt.Rank)
		assert.Equal(t, scoring.StrategyBalanced, opt.Strategy)
		assert.Equal(t, opt.Candidate.Mode.String(), opt.Explanation.Mode)
	}
	assert.Empty(t, res.Excluded)
	assert.Equal(t, now, res.GeneratedAt)

	fares := map[transit.Mode]float64{}
	for _, opt := range res.Options {
		fares[opt.Candidate.Mode] = opt.Candidate.Fare.Amount
	}
	assert.Less(t, fares[transit.BusOrdinary], fares[transit.MetroToken])
	assert.Less(t, fares[transit.MetroToken], fares[transit.Taxi])
}

func TestOptimize_Deterministic(t *testing.T) {
	agg := livesignal.NewAggregator(livesignal.Config{
		Clock:  func() time.Time { return now },
		Logger: zerolog.Nop(),
	})
	delay := 6.0
	lat, lng := mgRoad.Lat, mgRoad.Lon
	agg.Ingest(context.Background(), []livesignal.Record{{
		Feed: "bus", EntityID: "KA-57-F-0001", Lat: &lat, Lng: &lng,
		DelayMin: &delay, Timestamp: now.Unix(),
	}})

	o := newOptimizer(t, func(cfg *optimizer.Config) { cfg.Live = agg })
	req := optimizer.Request{Source: mgRoad, Destination: koramangala, Modes: scenario}

	first, err := o.Optimize(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := o.Optimize(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, optionModes(first), optionModes(again))
		for j := range first.Options {
			assert.Equal(t, first.Options[j].Composite, again.Options[j].Composite)
		}
		assert.NotEqual(t, first.ID, again.ID)
	}
}

func TestOptimize_FallbackSafety(t *testing.T) {
	agg := livesignal.NewAggregator(livesignal.Config{Logger: zerolog.Nop()})
	o := newOptimizer(t, func(cfg *optimizer.Config) { cfg.Live = agg })

	res, err := o.Optimize(context.Background(), optimizer.Request{Source: mgRoad, Destination: koramangala})
	require.NoError(t, err)

	require.NotEmpty(t, res.Options)
	for _, opt := range res.Options {
		assert.Equal(t, candidate.FreshnessFallback, opt.Candidate.Freshness, opt.Candidate.Mode.String())
	}
	assert.True(t, res.HasDiagnostic(optimizer.DiagnosticNoLiveData))

	require.Len(t, res.Excluded, 1)
	assert.Equal(t, transit.Walking, res.Excluded[0].Mode)
	assert.Equal(t, candidate.ReasonDistanceExceedsMode, res.Excluded[0].Reason)
}

func TestOptimize_FastestExtreme(t *testing.T) {
	o := newOptimizer(t, nil)

	res, err := o.Optimize(context.Background(), optimizer.Request{
		Source:      mgRoad,
		Destination: koramangala,
		Strategy:    scoring.StrategyFastest,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Options)

	top := res.Options[0].Candidate
	for _, opt := range res.Options[1:] {
		c := opt.Candidate
		assert.LessOrEqual(t, top.NominalDurationMin+top.AppliedDelayMin, c.NominalDurationMin+c.AppliedDelayMin)
	}
}

func TestOptimize_WalkingTooFar(t *testing.T) {
	o := newOptimizer(t, nil)

	// Nearly 14 km in a straight line, over 20 km on the road.
	res, err := o.Optimize(context.Background(), optimizer.Request{
		Source:      transit.Location{Lat: 12.9716, Lon: 77.5946},
		Destination: transit.Location{Lat: 13.0946, Lon: 77.5946},
		Modes:       []transit.Mode{transit.Walking},
	})
	require.NoError(t, err)

	assert.Empty(t, res.Options)
	assert.False(t, res.Viable())
	require.Len(t, res.Excluded, 1)
	assert.Equal(t, candidate.ReasonDistanceExceedsMode, res.Excluded[0].Reason)
	assert.True(t, res.HasDiagnostic(optimizer.DiagnosticNoViableCandidates))
}

func TestOptimize_OutsideServiceArea(t *testing.T) {
	o := newOptimizer(t, nil)

	res, err := o.Optimize(context.Background(), optimizer.Request{
		Source:      transit.Location{Lat: 12.3052, Lon: 76.6552},
		Destination: transit.Location{Lat: 12.3100, Lon: 76.6600},
	})
	require.NoError(t, err)

	assert.True(t, res.HasDiagnostic(optimizer.DiagnosticOutsideServiceArea))
	for _, opt := range res.Options {
		assert.Equal(t, transit.CategoryActive, opt.Candidate.Mode.Category())
	}
}

func TestOptimize_InvalidLocation(t *testing.T) {
	rec := &recorder{}
	o := newOptimizer(t, func(cfg *optimizer.Config) { cfg.History = rec })

	_, err := o.Optimize(context.Background(), optimizer.Request{
		Source:      transit.Location{Lat: 91, Lon: 77.5},
		Destination: koramangala,
	})
	assert.ErrorIs(t, err, transit.ErrInvalidLocation)

	_, err = o.Optimize(context.Background(), optimizer.Request{
		Source:      mgRoad,
		Destination: transit.Location{Lat: 12.9, Lon: -181},
	})
	assert.ErrorIs(t, err, transit.ErrInvalidLocation)
	assert.Empty(t, rec.results)
}

func TestOptimize_UnknownStrategy(t *testing.T) {
	o := newOptimizer(t, nil)

	_, err := o.Optimize(context.Background(), optimizer.Request{
		Source:      mgRoad,
		Destination: koramangala,
		Strategy:    "SCENIC",
	})
	assert.ErrorIs(t, err, scoring.ErrUnknownStrategy)
}

func TestOptimize_DefaultStrategy(t *testing.T) {
	o := newOptimizer(t, nil)

	res, err := o.Optimize(context.Background(), optimizer.Request{Source: mgRoad, Destination: koramangala, Modes: scenario})
	require.NoError(t, err)
	assert.Equal(t, scoring.StrategyBalanced, res.Strategy)
}

func TestOptimize_PlaceNamesAndHistory(t *testing.T) {
	rec := &recorder{}
	o := newOptimizer(t, func(cfg *optimizer.Config) {
		cfg.Places = places{}
		cfg.History = rec
	})

	res, err := o.Optimize(context.Background(), optimizer.Request{Source: mgRoad, Destination: koramangala, Modes: scenario})
	require.NoError(t, err)
	assert.Equal(t, "MG Road", res.Source.Name)
	assert.Equal(t, "Koramangala", res.Destination.Name)

	require.Len(t, rec.results, 1)
	assert.Equal(t, res.ID, rec.results[0].ID)
}

func TestOptimize_PlaceNameFailureIgnored(t *testing.T) {
	o := newOptimizer(t, func(cfg *optimizer.Config) {
		cfg.Places = places{err: errors.New("geocoder down")}
	})

	res, err := o.Optimize(context.Background(), optimizer.Request{Source: mgRoad, Destination: koramangala, Modes: scenario})
	require.NoError(t, err)
	assert.Empty(t, res.Source.Name)
	assert.Len(t, res.Options, 3)
}

func TestOptimize_CancelledContext(t *testing.T) {
	o := newOptimizer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Optimize(ctx, optimizer.Request{Source: mgRoad, Destination: koramangala})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptimize_ConcurrentRequests(t *testing.T) {
	agg := livesignal.NewAggregator(livesignal.Config{Logger: zerolog.Nop()})
	o := newOptimizer(t, func(cfg *optimizer.Config) { cfg.Live = agg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for i := 0; ctx.Err() == nil; i++ {
			delay := float64(i % 10)
			lat, lng := mgRoad.Lat, mgRoad.Lon
			agg.Ingest(ctx, []livesignal.Record{{
				Feed: "bus", EntityID: "KA-57-F-0001", Lat: &lat, Lng: &lng,
				DelayMin: &delay, Timestamp: time.Now().Unix(),
			}})
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Optimize(context.Background(), optimizer.Request{Source: mgRoad, Destination: koramangala, Modes: scenario})
			if assert.NoError(t, err) {
				assert.Len(t, res.Options, 3)
			}
		}()
	}
	wg.Wait()
}

func TestExplain(t *testing.T) {
	o := newOptimizer(t, nil)

	res, err := o.Optimize(context.Background(), optimizer.Request{Source: mgRoad, Destination: koramangala, Modes: scenario})
	require.NoError(t, err)

	ex := o.Explain(res.Options[0])
	assert.Equal(t, res.Options[0].Explanation, ex)
	assert.InDelta(t, res.Options[0].Composite,
		ex.Contributions[0].Contribution+ex.Contributions[1].Contribution+
			ex.Contributions[2].Contribution+ex.Contributions[3].Contribution, 1e-9)
}
