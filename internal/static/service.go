// Package static serves the slow-changing reference data used by the
// optimizer: tariffs from the catalog and the stop registry.
package static

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/wayforge/wayforge/internal/transit"
)

// ErrNotFound is returned when a stop does not exist.
var ErrNotFound = errors.New("not found")

// Repository stores the stop registry.
type Repository interface {
	// ListStops returns every stop.
	ListStops(ctx context.Context) ([]transit.Stop, error)

	// UpsertStops inserts or replaces stops by ID.
	UpsertStops(ctx context.Context, stops []transit.Stop) error
}

// ServiceConfig holds configuration for the static data service.
type ServiceConfig struct {
	// Repository holds the stops (required).
	Repository Repository

	// Catalog answers tariff lookups (required).
	Catalog *transit.Catalog

	Logger zerolog.Logger

	// CacheTTL is how long the stop list is served from memory (default: 1 hour).
	CacheTTL time.Duration

	// StaleIfErrorTTL allows serving an expired stop list when the
	// repository fails (default: 24 hours).
	StaleIfErrorTTL time.Duration

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Service answers tariff and stop lookups with an in-memory stop cache.
type Service struct {
	repo            Repository
	catalog         *transit.Catalog
	logger          zerolog.Logger
	cacheTTL        time.Duration
	staleIfErrorTTL time.Duration
	clock           func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	cache *cachedStops
}

type cachedStops struct {
	stops     []transit.Stop
	byID      map[string]transit.Stop
	fetchedAt time.Time
	expiresAt time.Time
}

// CacheStatus describes the stop cache.
type CacheStatus struct {
	Stops     int       `json:"stops"`
	FetchedAt time.Time `json:"fetchedAt,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Fresh     bool      `json:"fresh"`
}

// NewService creates a static data service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = time.Hour
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 24 * time.Hour
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		repo:            cfg.Repository,
		catalog:         cfg.Catalog,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		staleIfErrorTTL: staleIfErrorTTL,
		clock:           clock,
	}
}

// Tariff returns the catalog profile of a mode.
func (s *Service) Tariff(_ context.Context, m transit.Mode) (transit.Profile, error) {
	if !m.Valid() {
		return transit.Profile{}, fmt.Errorf("%w: %d", transit.ErrUnknownMode, int(m))
	}
	return s.catalog.Profile(m), nil
}

// Stops returns every stop ordered by ID.
func (s *Service) Stops(ctx context.Context) ([]transit.Stop, error) {
	c, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return append([]transit.Stop(nil), c.stops...), nil
}

// Stop returns one stop by ID.
func (s *Service) Stop(ctx context.Context, id string) (transit.Stop, error) {
	c, err := s.load(ctx)
	if err != nil {
		return transit.Stop{}, err
	}
	stop, ok := c.byID[id]
	if !ok {
		return transit.Stop{}, fmt.Errorf("stop %s: %w", id, ErrNotFound)
	}
	return stop, nil
}

// StopsNear returns the stops within radiusKm of near, closest first.
func (s *Service) StopsNear(ctx context.Context, near transit.Location, radiusKm float64) ([]transit.Stop, error) {
	if err := near.Validate(); err != nil {
		return nil, err
	}
	c, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	type hit struct {
		stop transit.Stop
		km   float64
	}
	var hits []hit
	for _, st := range c.stops {
		if km := transit.HaversineKm(near, st.Location()); km <= radiusKm {
			hits = append(hits, hit{stop: st, km: km})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].km != hits[j].km {
			return hits[i].km < hits[j].km
		}
		return hits[i].stop.ID < hits[j].stop.ID
	})

	out := make([]transit.Stop, len(hits))
	for i, h := range hits {
		out[i] = h.stop
	}
	return out, nil
}

// Import stores stops and drops the cache so the next lookup sees them.
func (s *Service) Import(ctx context.Context, stops []transit.Stop) error {
	for _, st := range stops {
		if err := st.Location().Validate(); err != nil {
			return fmt.Errorf("stop %s: %w", st.ID, err)
		}
	}
	if err := s.repo.UpsertStops(ctx, stops); err != nil {
		return fmt.Errorf("storing stops: %w", err)
	}
	s.InvalidateCache()
	return nil
}

// Refresh reloads the stop list from the repository.
func (s *Service) Refresh(ctx context.Context) error {
	_, err := s.fetch(ctx)
	return err
}

// InvalidateCache clears the cached stop list.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = nil
}

// CacheStatus returns information about the current cache state.
func (s *Service) CacheStatus() CacheStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil {
		return CacheStatus{}
	}
	return CacheStatus{
		Stops:     len(s.cache.stops),
		FetchedAt: s.cache.fetchedAt,
		ExpiresAt: s.cache.expiresAt,
		Fresh:     s.clock().Before(s.cache.expiresAt),
	}
}

func (s *Service) load(ctx context.Context) (*cachedStops, error) {
	s.mu.RLock()
	c := s.cache
	s.mu.RUnlock()
	if c != nil && s.clock().Before(c.expiresAt) {
		return c, nil
	}
	return s.fetch(ctx)
}

func (s *Service) fetch(ctx context.Context) (*cachedStops, error) {
	v, err, _ := s.group.Do("stops", func() (interface{}, error) {
		stops, err := s.repo.ListStops(ctx)
		if err != nil {
			return nil, err
		}

		sorted := append([]transit.Stop(nil), stops...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
		byID := make(map[string]transit.Stop, len(sorted))
		for _, st := range sorted {
			byID[st.ID] = st
		}

		now := s.clock()
		c := &cachedStops{stops: sorted, byID: byID, fetchedAt: now, expiresAt: now.Add(s.cacheTTL)}
		s.mu.Lock()
		s.cache = c
		s.mu.Unlock()

		s.logger.Debug().Int("stops", len(sorted)).Msg("stop cache refreshed")
		return c, nil
	})
	if err == nil {
		return v.(*cachedStops), nil
	}

	s.mu.RLock()
	stale := s.cache
	s.mu.RUnlock()
	if stale != nil && s.clock().Sub(stale.fetchedAt) < s.staleIfErrorTTL {
		s.logger.Warn().Err(err).
			Time("fetched_at", stale.fetchedAt).
			Msg("stop repository failed, serving stale stops")
		return stale, nil
	}
	return nil, fmt.Errorf("loading stops: %w", err)
}
