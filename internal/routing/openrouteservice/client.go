// Package openrouteservice looks up road distances from the
// OpenRouteService directions API.
package openrouteservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/wayforge/wayforge/internal/provider/resilience"
	"github.com/wayforge/wayforge/internal/routing"
)

const (
	// ProviderName identifies this routing provider.
	ProviderName = "openrouteservice"

	// DefaultBaseURL is the public ORS endpoint.
	DefaultBaseURL = "https://api.openrouteservice.org"

	// DefaultTimeout bounds one directions call. Lookups happen inside an
	// optimization request, so failures are not retried.
	DefaultTimeout = 800 * time.Millisecond

	// snapRadiusMeters is how far ORS may move a point onto the network.
	snapRadiusMeters = 500
)

// HTTPDoer executes HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures a Client. Only APIKey is required.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient HTTPDoer // defaults to a resilient client without retries
	Timeout    time.Duration
	Registry   *resilience.Registry
	Logger     zerolog.Logger
}

// Client fetches directions from OpenRouteService.
type Client struct {
	apiKey  string
	baseURL string
	http    HTTPDoer
	logger  zerolog.Logger
}

// NewClient builds a Client from cfg.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		rc := resilience.DefaultClientConfig(ProviderName)
		rc.Timeout = DefaultTimeout
		if cfg.Timeout > 0 {
			rc.Timeout = cfg.Timeout
		}
		rc.NoRetry = true
		rc.Registry = cfg.Registry
		rc.Logger = cfg.Logger
		c.http = resilience.NewClient(rc)
	}
	return c
}

// Name implements routing.Provider.
func (c *Client) Name() string { return ProviderName }

// SupportedProfiles implements routing.Provider.
func (c *Client) SupportedProfiles() []routing.RouteProfile {
	return []routing.RouteProfile{routing.ProfileDrive, routing.ProfileWalk, routing.ProfileBike}
}

// GetDirections asks ORS for the recommended road route between the two
// trip ends.
func (c *Client) GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error) {
	for _, end := range []struct {
		code string
		at   routing.Coordinate
	}{{"INVALID_ORIGIN", req.Origin}, {"INVALID_DESTINATION", req.Destination}} {
		if !end.at.Valid() {
			return nil, failure(end.code, fmt.Sprintf("coordinate (%.5f, %.5f) out of range", end.at.Lat, end.at.Lon), routing.ErrInvalidCoordinates)
		}
	}

	payload, err := json.Marshal(orsRequest{
		Coordinates: [][]float64{
			{req.Origin.Lon, req.Origin.Lat},
			{req.Destination.Lon, req.Destination.Lat},
		},
		Radiuses:   []float64{snapRadiusMeters, snapRadiusMeters},
		Preference: "recommended",
		Geometry:   true,
		Units:      "m",
	})
	if err != nil {
		return nil, fmt.Errorf("encode directions request: %w", err)
	}

	status, body, err := c.post(ctx, "/v2/directions/"+string(req.Profile), payload)
	if err != nil {
		c.logger.Debug().Err(err).Str("profile", string(req.Profile)).Msg("directions call failed")
		return nil, failure("REQUEST_FAILED", "routing provider unreachable", routing.ErrProviderUnavailable)
	}
	if status != http.StatusOK {
		return nil, classify(status, body)
	}

	var decoded orsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode directions: %w", err)
	}
	if len(decoded.Routes) == 0 {
		return nil, failure("NO_ROUTE", "routing provider returned no routes", routing.ErrNoRouteFound)
	}

	out := &routing.DirectionsResponse{Provider: ProviderName, FetchedAt: time.Now()}
	for _, r := range decoded.Routes {
		out.Routes = append(out.Routes, routing.Route{
			GeometryPolyline: r.Geometry,
			DistanceMeters:   int(r.Summary.Distance),
			DurationSeconds:  int(r.Summary.Duration),
		})
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// classify turns a non-200 ORS answer into a routing error. Routing
// failures (no path, unsnappable point) are reported by ORS code as well as
// by status.
func classify(status int, body []byte) *routing.Error {
	var decoded orsErrorResponse
	if json.Unmarshal(body, &decoded) != nil {
		return failure(fmt.Sprintf("HTTP_%d", status), "unreadable provider error", routing.ErrProviderUnavailable)
	}
	msg := decoded.Error.Message

	switch code := decoded.Error.Code; {
	case status == http.StatusTooManyRequests:
		return failure("RATE_LIMIT", msg, routing.ErrRateLimitExceeded)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return failure("FORBIDDEN", msg, routing.ErrProviderUnavailable)
	case status == http.StatusNotFound, code == orsErrorCodeRouteNotFound, code == orsErrorCodePointNotFound:
		return failure("NO_ROUTE", msg, routing.ErrNoRouteFound)
	case status == http.StatusBadRequest:
		return failure("BAD_REQUEST", msg, routing.ErrInvalidCoordinates)
	default:
		return failure(fmt.Sprintf("HTTP_%d", status), msg, routing.ErrProviderUnavailable)
	}
}

func failure(code, msg string, cause error) *routing.Error {
	return &routing.Error{Provider: ProviderName, Code: code, Message: msg, Err: cause}
}
