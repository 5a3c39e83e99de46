package config

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayforge/wayforge/internal/candidate"
	"github.com/wayforge/wayforge/internal/livesignal"
	"github.com/wayforge/wayforge/internal/scoring"
	"github.com/wayforge/wayforge/internal/transit"
)

func TestParseEngine_Defaults(t *testing.T) {
	e, err := ParseEngine(nil)
	require.NoError(t, err)

	table, err := e.StrategyWeights()
	require.NoError(t, err)
	assert.Equal(t, scoring.DefaultTable(), table)

	assert.Equal(t, 30*time.Second, e.Live.MaxAge)
	assert.Equal(t, 500*time.Millisecond, e.Live.LookupTimeout)
	assert.Equal(t, 0.5, e.CrowdingPenalty)

	require.Len(t, e.Distance.Circuity, 4)
	assert.True(t, math.IsInf(e.Distance.Circuity[3].UpToKm, 1))
	assert.Equal(t, candidate.DefaultCircuityTiers(), e.Distance.Circuity)

	factors, err := e.CongestionFactors()
	require.NoError(t, err)
	assert.Equal(t, candidate.DefaultCongestionFactors(), factors)
}

func TestParseEngine_PartialOverride(t *testing.T) {
	e, err := ParseEngine([]byte(`
weights:
  balanced: { time: 0.5, cost: 0.5 }
live:
  max_age: 45s
`))
	require.NoError(t, err)

	table, err := e.StrategyWeights()
	require.NoError(t, err)
	assert.Equal(t, scoring.Weights{Time: 0.5, Cost: 0.5}, table[scoring.StrategyBalanced])
	assert.Equal(t, scoring.Weights{Time: 1}, table[scoring.StrategyFastest])

	assert.Equal(t, 45*time.Second, e.Live.MaxAge)
	assert.Equal(t, 3.0, e.Live.CorridorRadiusKm, "unset keys keep their defaults")
}

func TestParseEngine_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown strategy":   "weights:\n  scenic: { time: 1 }\n",
		"zero weights":       "weights:\n  eco: { time: 0, cost: 0, eco: 0, comfort: 0 }\n",
		"negative weight":    "weights:\n  eco: { eco: -1 }\n",
		"unknown congestion": "congestion:\n  gridlock: 2\n",
		"decreasing tiers":   "distance:\n  circuity:\n    - { up_to_km: 5, factor: 1.5 }\n    - { up_to_km: 10, factor: 1.2 }\n",
		"zero max age":       "live:\n  max_age: 0s\n",
		"bad yaml":           "weights: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEngine([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestEngine_Configs(t *testing.T) {
	e, err := ParseEngine(nil)
	require.NoError(t, err)

	gen := e.GeneratorConfig(transit.DefaultCatalog(), stubStops{}, zerolog.Nop())
	assert.Nil(t, gen.Stops, "stop access is off by default")
	assert.Equal(t, 4, gen.Concurrency)
	assert.Equal(t, time.Second, gen.DistanceTimeout)
	assert.Equal(t, 0.2, gen.CongestionFactors[livesignal.CongestionModerate])
	_, err = candidate.NewGenerator(gen)
	require.NoError(t, err)

	_, err = scoring.NewEngine(e.ScoringConfig())
	require.NoError(t, err)

	agg := e.AggregatorConfig(zerolog.Nop())
	assert.Equal(t, 30*time.Second, agg.MaxAge)
	assert.Equal(t, 1.0, agg.StopRadiusKm)
}

type stubStops struct{}

func (stubStops) StopsNear(context.Context, transit.Location, float64) ([]transit.Stop, error) {
	return nil, nil
}

func TestEngine_StopAccessOptIn(t *testing.T) {
	e, err := ParseEngine([]byte("stop_access: true\n"))
	require.NoError(t, err)

	gen := e.GeneratorConfig(transit.DefaultCatalog(), stubStops{}, zerolog.Nop())
	assert.Equal(t, stubStops{}, gen.Stops)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("FEED_SOURCES", "bus=gtfsrt:https://feeds.example.org/bmtc/vehicles.pb, traffic=json:https://feeds.example.org/traffic.json")
	t.Setenv("FEED_POLL_INTERVAL", "10s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.org, https://admin.example.org")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, []string{"https://app.example.org", "https://admin.example.org"}, cfg.CORSOrigins)
	assert.Equal(t, []FeedSource{
		{Feed: "bus", Format: "gtfsrt", URL: "https://feeds.example.org/bmtc/vehicles.pb"},
		{Feed: "traffic", Format: "json", URL: "https://feeds.example.org/traffic.json"},
	}, cfg.FeedSources)
}

func TestFromEnv_Invalid(t *testing.T) {
	for key, value := range map[string]string{
		"FEED_POLL_INTERVAL":    "often",
		"OTEL_SAMPLE_RATIO":     "some",
		"RATE_LIMIT_PER_MINUTE": "lots",
		"FEED_SOURCES":          "bus",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestParseFeedSources_Invalid(t *testing.T) {
	for _, s := range []string{"bus", "bus=gtfsrt", "bus=gtfsrt:"} {
		_, err := ParseFeedSources(s)
		assert.Error(t, err, s)
	}
}
