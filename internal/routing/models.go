// Package routing provides road distances and geometries between two points
// for the modes that travel on the street network.
package routing

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	ErrNoRouteFound        = errors.New("no route found between the given points")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
)

// Provider answers directions requests from a road network.
type Provider interface {
	GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error)
	Name() string
	SupportedProfiles() []RouteProfile
}

// RouteProfile is a street-network profile.
type RouteProfile string

const (
	// ProfileDrive serves buses, taxis and autos.
	ProfileDrive RouteProfile = "driving-car"
	ProfileWalk  RouteProfile = "foot-walking"
	ProfileBike  RouteProfile = "cycling-regular"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Valid reports whether c is a finite in-range coordinate.
func (c Coordinate) Valid() bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lon) &&
		c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// DirectionsRequest asks for a route between two points.
type DirectionsRequest struct {
	Origin      Coordinate
	Destination Coordinate
	Profile     RouteProfile
}

// DirectionsResponse holds the routes returned by a provider, best first.
type DirectionsResponse struct {
	Routes    []Route
	Provider  string
	FetchedAt time.Time
}

// Best returns the first route, or false when there is none.
func (r *DirectionsResponse) Best() (Route, bool) {
	if r == nil || len(r.Routes) == 0 {
		return Route{}, false
	}
	return r.Routes[0], true
}

// Route is one road path. GeometryPolyline uses precision 5.
type Route struct {
	GeometryPolyline string
	DistanceMeters   int
	DurationSeconds  int
}

// DistanceKm returns the route length in kilometres.
func (r Route) DistanceKm() float64 {
	return float64(r.DistanceMeters) / 1000
}

// Error is a provider failure. Err is one of the sentinels above.
type Error struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Provider + ": " + e.Message
	}
	return e.Provider + ": " + e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is transient.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}
