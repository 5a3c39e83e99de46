package static

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayforge/wayforge/internal/candidate"
	"github.com/wayforge/wayforge/internal/transit"
)

var _ candidate.StopFinder = (*Service)(nil)

type flakyRepository struct {
	*MemoryRepository
	fail  atomic.Bool
	calls atomic.Int32
}

func (r *flakyRepository) ListStops(ctx context.Context) ([]transit.Stop, error) {
	r.calls.Add(1)
	if r.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return r.MemoryRepository.ListStops(ctx)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *flakyRepository, *testClock) {
	t.Helper()
	stops, err := LoadStops("")
	require.NoError(t, err)

	repo := &flakyRepository{MemoryRepository: NewMemoryRepository(stops...)}
	clock := &testClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	svc := NewService(ServiceConfig{
		Repository:      repo,
		Catalog:         transit.DefaultCatalog(),
		Logger:          zerolog.Nop(),
		CacheTTL:        time.Hour,
		StaleIfErrorTTL: 6 * time.Hour,
		Clock:           clock.Now,
	})
	return svc, repo, clock
}

func TestLoadStops_Default(t *testing.T) {
	stops, err := LoadStops("")
	require.NoError(t, err)
	assert.Len(t, stops, 20)

	for _, st := range stops {
		assert.True(t, transit.DefaultCatalog().InServiceArea(st.Location()), st.ID)
	}
}

func TestParseStops_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing id":  "stops:\n  - { name: x, lat: 12.9, lon: 77.6, modes: [taxi] }\n",
		"duplicate":   "stops:\n  - { id: a, lat: 12.9, lon: 77.6, modes: [taxi] }\n  - { id: a, lat: 12.9, lon: 77.6, modes: [taxi] }\n",
		"bad coords":  "stops:\n  - { id: a, lat: 120, lon: 77.6, modes: [taxi] }\n",
		"no modes":    "stops:\n  - { id: a, lat: 12.9, lon: 77.6 }\n",
		"bad mode":    "stops:\n  - { id: a, lat: 12.9, lon: 77.6, modes: [hovercraft] }\n",
		"not a stops": "stops: 4\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseStops([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestStopsNear(t *testing.T) {
	svc, _, _ := newTestService(t)

	near := transit.Location{Lat: 12.9716, Lon: 77.5946}
	stops, err := svc.StopsNear(context.Background(), near, 1.5)
	require.NoError(t, err)

	ids := make([]string, len(stops))
	for i, st := range stops {
		ids[i] = st.ID
	}
	assert.Equal(t, []string{"bus-mg-road", "metro-cubbon-park", "metro-mg-road"}, ids)

	for i := 1; i < len(stops); i++ {
		assert.LessOrEqual(t,
			transit.HaversineKm(near, stops[i-1].Location()),
			transit.HaversineKm(near, stops[i].Location()))
	}
}

func TestStopsNear_InvalidLocation(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.StopsNear(context.Background(), transit.Location{Lat: -95, Lon: 0}, 1)
	assert.ErrorIs(t, err, transit.ErrInvalidLocation)
}

func TestService_CachesStops(t *testing.T) {
	svc, repo, clock := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Stops(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), repo.calls.Load())
	assert.True(t, svc.CacheStatus().Fresh)

	clock.Advance(61 * time.Minute)
	assert.False(t, svc.CacheStatus().Fresh)
	_, err := svc.Stops(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.calls.Load())
}

func TestService_StaleIfError(t *testing.T) {
	svc, repo, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Stops(ctx)
	require.NoError(t, err)

	repo.fail.Store(true)
	clock.Advance(2 * time.Hour)
	stops, err := svc.Stops(ctx)
	require.NoError(t, err, "expired stops are served while the repository is down")
	assert.Len(t, stops, 20)

	clock.Advance(5 * time.Hour)
	_, err = svc.Stops(ctx)
	assert.Error(t, err)
}

func TestService_ErrorWithoutCache(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.fail.Store(true)

	_, err := svc.StopsNear(context.Background(), transit.Location{Lat: 12.97, Lon: 77.59}, 1)
	assert.Error(t, err)
}

func TestService_Stop(t *testing.T) {
	svc, _, _ := newTestService(t)

	st, err := svc.Stop(context.Background(), "metro-majestic")
	require.NoError(t, err)
	assert.True(t, st.Serves(transit.MetroToken))

	_, err = svc.Stop(context.Background(), "metro-atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ImportInvalidatesCache(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Stops(ctx)
	require.NoError(t, err)

	err = svc.Import(ctx, []transit.Stop{{
		ID: "metro-nagasandra", Name: "Nagasandra", Lat: 13.0480, Lon: 77.5000,
		Modes: []transit.Mode{transit.MetroToken, transit.MetroSmartCard},
	}})
	require.NoError(t, err)

	stops, err := svc.Stops(ctx)
	require.NoError(t, err)
	assert.Len(t, stops, 21)

	err = svc.Import(ctx, []transit.Stop{{ID: "bad", Lat: 100}})
	assert.ErrorIs(t, err, transit.ErrInvalidLocation)
}

func TestService_Tariff(t *testing.T) {
	svc, _, _ := newTestService(t)

	p, err := svc.Tariff(context.Background(), transit.BusOrdinary)
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.BaseFare)

	_, err = svc.Tariff(context.Background(), transit.Mode(99))
	assert.ErrorIs(t, err, transit.ErrUnknownMode)
}
