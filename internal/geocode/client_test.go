package geocode_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayforge/wayforge/internal/geocode"
	"github.com/wayforge/wayforge/internal/optimizer"
	"github.com/wayforge/wayforge/internal/transit"
)

var _ optimizer.PlaceNamer = (*geocode.Client)(nil)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*geocode.Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client := geocode.NewClient(geocode.ClientConfig{
		BaseURL:    srv.URL,
		UserAgent:  "wayforge-test",
		ViewBox:    transit.BoundingBox{MinLat: 12.7, MinLon: 77.3, MaxLat: 13.2, MaxLon: 77.9},
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})
	return client, &calls
}

func TestResolve(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "mg road metro", r.URL.Query().Get("q"))
		assert.Equal(t, "1", r.URL.Query().Get("bounded"))
		assert.Equal(t, "wayforge-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"12.9755","lon":"77.6068","display_name":"MG Road, Bengaluru"}]`))
	})

	place, err := client.Resolve(context.Background(), "  mg road   metro ")
	require.NoError(t, err)
	assert.InDelta(t, 12.9755, place.Location.Lat, 1e-9)
	assert.InDelta(t, 77.6068, place.Location.Lon, 1e-9)
	assert.Equal(t, "MG Road, Bengaluru", place.DisplayName)

	_, err = client.Resolve(context.Background(), "MG Road Metro")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second lookup is served from cache")
}

func TestResolve_NoResult(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := client.Resolve(context.Background(), "atlantis")
	assert.ErrorIs(t, err, geocode.ErrNoResult)
}

func TestResolve_EmptyQuery(t *testing.T) {
	client, calls := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	_, err := client.Resolve(context.Background(), "   ")
	assert.ErrorIs(t, err, geocode.ErrEmptyQuery)
	assert.Zero(t, calls.Load())
}

func TestResolve_InvalidCoordinates(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"north","lon":"77.6","display_name":"x"}]`))
	})

	_, err := client.Resolve(context.Background(), "somewhere")
	var geoErr *geocode.Error
	require.True(t, errors.As(err, &geoErr))
	assert.Equal(t, "BAD_RESPONSE", geoErr.Code)
}

func TestDescribe(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "12.971600", r.URL.Query().Get("lat"))
		_, _ = w.Write([]byte(`{"display_name":"Mahatma Gandhi Road, Bengaluru"}`))
	})

	name, err := client.Describe(context.Background(), transit.Location{Lat: 12.9716, Lon: 77.5946})
	require.NoError(t, err)
	assert.Equal(t, "Mahatma Gandhi Road, Bengaluru", name)

	// Within the cache grid of the first lookup.
	_, err = client.Describe(context.Background(), transit.Location{Lat: 12.97162, Lon: 77.59461})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDescribe_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unable to geocode", http.StatusOK, `{"error":"Unable to geocode"}`, geocode.ErrNoResult},
		{"not found", http.StatusNotFound, ``, geocode.ErrNoResult},
		{"server error", http.StatusBadGateway, ``, geocode.ErrProviderUnavailable},
		{"rate limited", http.StatusTooManyRequests, ``, geocode.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.Describe(context.Background(), transit.Location{Lat: 12.9, Lon: 77.6})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDescribe_InvalidLocation(t *testing.T) {
	client, calls := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	_, err := client.Describe(context.Background(), transit.Location{Lat: 91, Lon: 0})
	assert.ErrorIs(t, err, transit.ErrInvalidLocation)
	assert.Zero(t, calls.Load())
}
