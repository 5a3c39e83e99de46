package candidate

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/wayforge/wayforge/internal/routing"
	"github.com/wayforge/wayforge/internal/transit"
	"github.com/wayforge/wayforge/pkg/polyline"
)

// DistanceSource names where a trip distance came from.
type DistanceSource string

const (
	SourceCircuity DistanceSource = "circuity"
	SourceRoad     DistanceSource = "road"
)

// Distance is the travel distance of one mode between two points.
type Distance struct {
	Km       float64
	Source   DistanceSource
	Geometry []transit.Location
}

// DistanceProvider computes travel distances. Implementations must be
// symmetric in a and b and never return a negative distance.
type DistanceProvider interface {
	Distance(ctx context.Context, m transit.Mode, a, b transit.Location) (Distance, error)
}

// CircuityTier multiplies straight-line distances below UpToKm by Factor.
type CircuityTier struct {
	UpToKm float64 `json:"upToKm" yaml:"up_to_km"`
	Factor float64 `json:"factor" yaml:"factor"`
}

// DefaultCircuityTiers approximate Bangalore's road network: short hops
// detour less than cross-city trips.
func DefaultCircuityTiers() []CircuityTier {
	return []CircuityTier{
		{UpToKm: 5, Factor: 1.3},
		{UpToKm: 15, Factor: 1.5},
		{UpToKm: 30, Factor: 1.6},
		{UpToKm: math.Inf(1), Factor: 1.7},
	}
}

// CircuityDistance estimates road distance as the haversine distance times
// a tiered detour factor.
type CircuityDistance struct {
	tiers []CircuityTier
}

// NewCircuityDistance validates tiers and builds the estimator. Factors
// must be at least 1 and non-decreasing so the estimate stays monotonic.
func NewCircuityDistance(tiers []CircuityTier) (*CircuityDistance, error) {
	if len(tiers) == 0 {
		tiers = DefaultCircuityTiers()
	}
	sorted := append([]CircuityTier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UpToKm < sorted[j].UpToKm })

	prev := 1.0
	for _, t := range sorted {
		if math.IsNaN(t.Factor) || t.Factor < prev || t.UpToKm <= 0 {
			return nil, fmt.Errorf("circuity tier %+v: factors must be >= 1 and non-decreasing", t)
		}
		prev = t.Factor
	}
	return &CircuityDistance{tiers: sorted}, nil
}

// Factor returns the detour factor for a straight-line distance.
func (c *CircuityDistance) Factor(straightKm float64) float64 {
	for _, t := range c.tiers {
		if straightKm < t.UpToKm {
			return t.Factor
		}
	}
	return c.tiers[len(c.tiers)-1].Factor
}

// Distance implements DistanceProvider.
func (c *CircuityDistance) Distance(_ context.Context, _ transit.Mode, a, b transit.Location) (Distance, error) {
	straight := transit.HaversineKm(a, b)
	return Distance{
		Km:       straight * c.Factor(straight),
		Source:   SourceCircuity,
		Geometry: []transit.Location{a, b},
	}, nil
}

// Router is the subset of the routing service used for road distances.
type Router interface {
	GetDirections(ctx context.Context, req routing.DirectionsRequest) (*routing.DirectionsResponse, error)
}

// RoadDistance asks a routing provider for street-network distances and
// falls back to another provider when the call fails or the mode does not
// use the street network.
type RoadDistance struct {
	router   Router
	fallback DistanceProvider
	logger   zerolog.Logger
}

// NewRoadDistance creates a road distance provider.
func NewRoadDistance(router Router, fallback DistanceProvider, logger zerolog.Logger) *RoadDistance {
	return &RoadDistance{router: router, fallback: fallback, logger: logger}
}

// Distance implements DistanceProvider. Endpoints are put in a canonical
// order before the lookup so a->b and b->a share one answer, and the result
// is never shorter than the straight line.
func (r *RoadDistance) Distance(ctx context.Context, m transit.Mode, a, b transit.Location) (Distance, error) {
	profile, ok := profileFor(m)
	if !ok {
		return r.fallback.Distance(ctx, m, a, b)
	}

	from, to := a, b
	swapped := false
	if b.Lat < a.Lat || (b.Lat == a.Lat && b.Lon < a.Lon) {
		from, to = b, a
		swapped = true
	}

	resp, err := r.router.GetDirections(ctx, routing.DirectionsRequest{
		Origin:      routing.Coordinate{Lat: from.Lat, Lon: from.Lon},
		Destination: routing.Coordinate{Lat: to.Lat, Lon: to.Lon},
		Profile:     profile,
	})
	route, found := resp.Best()
	if err != nil || !found {
		r.logger.Debug().Err(err).
			Str("mode", m.String()).
			Msg("road distance unavailable, using estimate")
		return r.fallback.Distance(ctx, m, a, b)
	}

	km := math.Max(route.DistanceKm(), transit.HaversineKm(a, b))
	geometry := decodeGeometry(route.GeometryPolyline)
	if len(geometry) < 2 {
		geometry = []transit.Location{from, to}
	}
	if swapped {
		for i, j := 0, len(geometry)-1; i < j; i, j = i+1, j-1 {
			geometry[i], geometry[j] = geometry[j], geometry[i]
		}
	}
	return Distance{Km: km, Source: SourceRoad, Geometry: geometry}, nil
}

func profileFor(m transit.Mode) (routing.RouteProfile, bool) {
	switch m.Category() {
	case transit.CategoryBus, transit.CategoryRideHail:
		return routing.ProfileDrive, true
	case transit.CategoryActive:
		if m == transit.Cycling {
			return routing.ProfileBike, true
		}
		return routing.ProfileWalk, true
	case transit.CategoryMetro:
		return "", false
	default:
		return "", false
	}
}

func decodeGeometry(encoded string) []transit.Location {
	coords := polyline.Decode(encoded)
	out := make([]transit.Location, len(coords))
	for i, c := range coords {
		out[i] = transit.Location{Lat: c.Lat, Lon: c.Lon}
	}
	return out
}

func encodeGeometry(path []transit.Location) string {
	coords := make([]polyline.Coordinate, len(path))
	for i, l := range path {
		coords[i] = polyline.Coordinate{Lat: l.Lat, Lon: l.Lon}
	}
	return polyline.Encode(coords)
}

// corridor returns at most maxPoints evenly spaced points along path.
func corridor(path []transit.Location, maxPoints int) []transit.Location {
	if len(path) <= 2 {
		if len(path) == 2 {
			mid := transit.Location{Lat: (path[0].Lat + path[1].Lat) / 2, Lon: (path[0].Lon + path[1].Lon) / 2}
			return []transit.Location{path[0], mid, path[1]}
		}
		return path
	}

	coords := make([]polyline.Coordinate, len(path))
	for i, l := range path {
		coords[i] = polyline.Coordinate{Lat: l.Lat, Lon: l.Lon}
	}
	length := polyline.Length(coords)
	if length == 0 || maxPoints < 2 {
		return path[:1]
	}

	sampled := polyline.Sample(coords, length/float64(maxPoints-1))
	out := make([]transit.Location, 0, len(sampled))
	for _, c := range sampled {
		out = append(out, transit.Location{Lat: c.Lat, Lon: c.Lon})
	}
	if len(out) > maxPoints {
		out = append(out[:maxPoints-1], out[len(out)-1])
	}
	return out
}
