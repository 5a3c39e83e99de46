package routing

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	resp  *DirectionsResponse
	err   atomic.Value
	calls atomic.Int32
	delay time.Duration
}

func newStubProvider() *stubProvider {
	return &stubProvider{resp: &DirectionsResponse{
		Routes:   []Route{{GeometryPolyline: "_p~iF~ps|U_ulLnnqC", DistanceMeters: 8120, DurationSeconds: 1260}},
		Provider: "stub",
	}}
}

func (p *stubProvider) GetDirections(context.Context, DirectionsRequest) (*DirectionsResponse, error) {
	p.calls.Add(1)
	time.Sleep(p.delay)
	if err, ok := p.err.Load().(error); ok {
		return nil, err
	}
	return p.resp, nil
}

func (p *stubProvider) Name() string                      { return "stub" }
func (p *stubProvider) SupportedProfiles() []RouteProfile { return []RouteProfile{ProfileDrive} }

func (p *stubProvider) goDown() {
	p.err.Store(error(&Error{Provider: "stub", Message: "down", Err: ErrProviderUnavailable}))
}

var majesticToKoramangala = DirectionsRequest{
	Origin:      Coordinate{Lat: 12.9767, Lon: 77.5713},
	Destination: Coordinate{Lat: 12.9352, Lon: 77.6245},
	Profile:     ProfileDrive,
}

func newTestService(p Provider, mutate func(*ServiceConfig)) *Service {
	cfg := ServiceConfig{Provider: p, Logger: zerolog.Nop()}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewService(cfg)
}

func TestService_CachesRoutes(t *testing.T) {
	p := newStubProvider()
	s := newTestService(p, nil)

	for i := 0; i < 3; i++ {
		resp, err := s.GetDirections(context.Background(), majesticToKoramangala)
		require.NoError(t, err)
		best, ok := resp.Best()
		require.True(t, ok)
		assert.InDelta(t, 8.12, best.DistanceKm(), 1e-9)
	}
	assert.EqualValues(t, 1, p.calls.Load())

	s.Flush()
	_, err := s.GetDirections(context.Background(), majesticToKoramangala)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.calls.Load())
	assert.Equal(t, "stub", s.Name())
}

func TestService_GridSharing(t *testing.T) {
	p := newStubProvider()
	s := newTestService(p, func(c *ServiceConfig) { c.GridDegrees = 0.01 })

	near := majesticToKoramangala
	near.Origin.Lat += 0.0001
	near.Destination.Lon += 0.0001
	walk := majesticToKoramangala
	walk.Profile = ProfileWalk

	for _, req := range []DirectionsRequest{majesticToKoramangala, near} {
		_, err := s.GetDirections(context.Background(), req)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, p.calls.Load(), "nearby ends share a cell")

	_, err := s.GetDirections(context.Background(), walk)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.calls.Load(), "profiles are cached apart")
}

func TestService_ServesExpiredRouteOnFailure(t *testing.T) {
	p := newStubProvider()
	s := newTestService(p, func(c *ServiceConfig) {
		c.FreshFor = time.Millisecond
		c.KeepFor = time.Hour
	})

	_, err := s.GetDirections(context.Background(), majesticToKoramangala)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	p.goDown()

	resp, err := s.GetDirections(context.Background(), majesticToKoramangala)
	require.NoError(t, err)
	assert.Equal(t, 8120, resp.Routes[0].DistanceMeters)
	assert.EqualValues(t, 2, p.calls.Load())
}

func TestService_FailureWithoutCache(t *testing.T) {
	p := newStubProvider()
	p.goDown()
	s := newTestService(p, nil)

	_, err := s.GetDirections(context.Background(), majesticToKoramangala)
	require.ErrorIs(t, err, ErrProviderUnavailable)

	var routingErr *Error
	require.ErrorAs(t, err, &routingErr)
	assert.True(t, routingErr.IsRetryable())
}

func TestService_RejectsOutOfRange(t *testing.T) {
	p := newStubProvider()
	s := newTestService(p, nil)

	for name, req := range map[string]DirectionsRequest{
		"origin lat":      {Origin: Coordinate{Lat: 91, Lon: 77}, Destination: majesticToKoramangala.Destination},
		"destination lon": {Origin: majesticToKoramangala.Origin, Destination: Coordinate{Lat: 12, Lon: 181}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetDirections(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidCoordinates)
		})
	}
	assert.Zero(t, p.calls.Load())
}

func TestService_CoalescesConcurrentLookups(t *testing.T) {
	p := newStubProvider()
	p.delay = 50 * time.Millisecond
	s := newTestService(p, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetDirections(context.Background(), majesticToKoramangala)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, p.calls.Load())
}

type ctxProvider struct {
	*stubProvider
	release chan struct{}
}

func (p *ctxProvider) GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error) {
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.stubProvider.GetDirections(ctx, req)
}

func TestService_StarterTimeoutDoesNotFailJoiners(t *testing.T) {
	p := &ctxProvider{stubProvider: newStubProvider(), release: make(chan struct{})}
	s := newTestService(p, nil)

	starterCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	starterErr := make(chan error, 1)
	go func() {
		_, err := s.GetDirections(starterCtx, majesticToKoramangala)
		starterErr <- err
	}()

	joined := make(chan *DirectionsResponse, 1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		resp, err := s.GetDirections(context.Background(), majesticToKoramangala)
		assert.NoError(t, err)
		joined <- resp
	}()

	require.ErrorIs(t, <-starterErr, context.DeadlineExceeded)
	close(p.release)

	select {
	case resp := <-joined:
		require.NotNil(t, resp)
		assert.Equal(t, 8120, resp.Routes[0].DistanceMeters)
	case <-time.After(time.Second):
		t.Fatal("joined caller never got the route")
	}
	assert.EqualValues(t, 1, p.calls.Load())
}
