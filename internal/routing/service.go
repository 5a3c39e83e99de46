package routing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ServiceConfig configures a Service. Zero durations take the defaults.
type ServiceConfig struct {
	Provider Provider
	Logger   zerolog.Logger

	// FreshFor is how long a cached route is served without asking the
	// provider again (default: 30m). Road geometry rarely changes.
	FreshFor time.Duration

	// KeepFor is how long a route stays around to cover provider outages
	// (default: 6h, never shorter than FreshFor).
	KeepFor time.Duration

	// GridDegrees snaps trip ends to a grid before keying the cache
	// (default: 0.002, about 220m in Bangalore).
	GridDegrees float64

	// FetchTimeout bounds one shared provider call (default: 2s). The call
	// outlives the caller that started it so joined callers still get the
	// answer.
	FetchTimeout time.Duration
}

// Service caches provider routes on a coarse grid, coalesces concurrent
// lookups for the same cell pair, and serves expired routes while the
// provider is failing.
type Service struct {
	provider Provider
	logger   zerolog.Logger
	freshFor time.Duration
	grid     float64
	timeout  time.Duration

	routes *cache.Cache
	flight singleflight.Group
}

type cachedRoute struct {
	resp      *DirectionsResponse
	fetchedAt time.Time
}

// NewService wraps provider with the cache.
func NewService(cfg ServiceConfig) *Service {
	freshFor := durationOr(cfg.FreshFor, 30*time.Minute)
	keepFor := max(durationOr(cfg.KeepFor, 6*time.Hour), freshFor)
	grid := cfg.GridDegrees
	if grid <= 0 {
		grid = 0.002
	}

	return &Service{
		provider: cfg.Provider,
		logger:   cfg.Logger,
		freshFor: freshFor,
		grid:     grid,
		timeout:  durationOr(cfg.FetchTimeout, 2*time.Second),
		routes:   cache.New(keepFor, 10*time.Minute),
	}
}

// GetDirections implements the Provider lookup with caching.
func (s *Service) GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	if !req.Origin.Valid() || !req.Destination.Valid() {
		return nil, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_COORDINATES",
			Message:  "trip end out of range",
			Err:      ErrInvalidCoordinates,
		}
	}

	key := s.key(req)
	if hit, ok := s.cached(key); ok && time.Since(hit.fetchedAt) < s.freshFor {
		return hit.resp, nil
	}

	ch := s.flight.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.refresh(fetchCtx, key, req)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug().Str("key", key).Msg("joined in-flight directions lookup")
		}
		return res.Val.(*DirectionsResponse), nil
	}
}

// Name returns the wrapped provider's name.
func (s *Service) Name() string { return s.provider.Name() }

// Flush drops every cached route.
func (s *Service) Flush() { s.routes.Flush() }

func (s *Service) refresh(ctx context.Context, key string, req DirectionsRequest) (*DirectionsResponse, error) {
	resp, err := s.provider.GetDirections(ctx, req)
	if err == nil {
		s.routes.SetDefault(key, &cachedRoute{resp: resp, fetchedAt: time.Now()})
		return resp, nil
	}

	if hit, ok := s.cached(key); ok {
		s.logger.Warn().Err(err).
			Str("key", key).
			Dur("age", time.Since(hit.fetchedAt)).
			Msg("provider failed, serving expired route")
		return hit.resp, nil
	}
	s.logger.Warn().Err(err).Str("key", key).Msg("directions lookup failed")
	return nil, err
}

func (s *Service) cached(key string) (*cachedRoute, bool) {
	v, ok := s.routes.Get(key)
	if !ok {
		return nil, false
	}
	hit, ok := v.(*cachedRoute)
	return hit, ok
}

// key is "{profile}:{lat},{lon}:{lat},{lon}" with both ends snapped down
// to the grid.
func (s *Service) key(req DirectionsRequest) string {
	snap := func(v float64) float64 { return math.Floor(v/s.grid) * s.grid }
	return fmt.Sprintf("%s:%.4f,%.4f:%.4f,%.4f", req.Profile,
		snap(req.Origin.Lat), snap(req.Origin.Lon),
		snap(req.Destination.Lat), snap(req.Destination.Lon))
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
