package transit

import (
	"errors"
	"fmt"
	"math"

	"github.com/samber/lo"
)

// Transit errors.
var (
	ErrInvalidLocation = errors.New("invalid location")
	ErrUnknownMode     = errors.New("unknown transport mode")
	ErrInvalidCatalog  = errors.New("invalid tariff catalog")
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Location is a point on the map with an optional display name.
type Location struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name,omitempty"`
}

// Validate checks the coordinates against the global range.
func (l Location) Validate() error {
	if math.IsNaN(l.Lat) || math.IsInf(l.Lat, 0) || math.IsNaN(l.Lon) || math.IsInf(l.Lon, 0) {
		return fmt.Errorf("%w: non-finite coordinates", ErrInvalidLocation)
	}
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range [-90, 90]", ErrInvalidLocation, l.Lat)
	}
	if l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("%w: longitude %f out of range [-180, 180]", ErrInvalidLocation, l.Lon)
	}
	return nil
}

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundingBox is a rectangular service area.
type BoundingBox struct {
	MinLat float64 `json:"minLat" yaml:"min_lat"`
	MinLon float64 `json:"minLon" yaml:"min_lon"`
	MaxLat float64 `json:"maxLat" yaml:"max_lat"`
	MaxLon float64 `json:"maxLon" yaml:"max_lon"`
}

// Contains reports whether l lies inside the box, edges included.
func (b BoundingBox) Contains(l Location) bool {
	return l.Lat >= b.MinLat && l.Lat <= b.MaxLat && l.Lon >= b.MinLon && l.Lon <= b.MaxLon
}

// IsZero reports whether the box is unset.
func (b BoundingBox) IsZero() bool {
	return b == BoundingBox{}
}

// Stop is a boarding point served by one or more modes.
type Stop struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Lat    float64  `json:"lat"`
	Lon    float64  `json:"lon"`
	Modes  []Mode   `json:"modes"`
	Routes []string `json:"routes,omitempty"`
}

// Location returns the stop position.
func (s Stop) Location() Location {
	return Location{Lat: s.Lat, Lon: s.Lon, Name: s.Name}
}

// Serves reports whether the stop is served by mode m.
func (s Stop) Serves(m Mode) bool {
	return lo.Contains(s.Modes, m)
}
