package transit

import (
	"fmt"
	"math"
	"sort"
)

// Slab is one step of a distance-based fare table.
type Slab struct {
	MaxKm float64 `json:"maxKm" yaml:"max_km"`
	Fare  float64 `json:"fare" yaml:"fare"`
}

// Profile is the static description of a mode: tariff, speed and ratings.
type Profile struct {
	Mode Mode `json:"mode" yaml:"-"`

	// BaseFare is the flag-fall amount and the floor of every linear fare.
	BaseFare float64 `json:"baseFare" yaml:"base_fare"`

	// PerKmRate is charged per km on linear tariffs.
	PerKmRate float64 `json:"perKmRate" yaml:"per_km_rate"`

	// PerMinuteRate is charged per minute of travel (ride-hail only).
	PerMinuteRate float64 `json:"perMinuteRate,omitempty" yaml:"per_minute_rate"`

	// MaxFare caps linear fares when positive.
	MaxFare float64 `json:"maxFare,omitempty" yaml:"max_fare"`

	// Slabs, when present, replace the linear tariff. Sorted by MaxKm.
	Slabs []Slab `json:"slabs,omitempty" yaml:"slabs"`

	// Discount is a fractional reduction applied after the tariff, e.g. 0.05.
	Discount float64 `json:"discount,omitempty" yaml:"discount"`

	AverageSpeedKmh float64 `json:"averageSpeedKmh" yaml:"average_speed_kmh"`

	// MaxDistanceKm marks trips beyond it as not viable. Zero means unlimited.
	MaxDistanceKm float64 `json:"maxDistanceKm,omitempty" yaml:"max_distance_km"`

	SurgeEligible bool `json:"surgeEligible" yaml:"surge_eligible"`

	// EcoRating and ComfortRating are pre-normalized to [0,1].
	EcoRating     float64 `json:"ecoRating" yaml:"eco_rating"`
	ComfortRating float64 `json:"comfortRating" yaml:"comfort_rating"`

	// RequiresLive excludes the mode when no fresh live signal exists.
	RequiresLive bool `json:"requiresLive,omitempty" yaml:"requires_live"`

	// ServiceArea restricts the mode to trips inside the catalog's area.
	ServiceArea bool `json:"serviceArea,omitempty" yaml:"service_area"`

	// AccessRadiusKm is how far a rider may walk to a stop for this mode.
	// Zero means the mode is door to door.
	AccessRadiusKm float64 `json:"accessRadiusKm,omitempty" yaml:"access_radius_km"`
}

// SlabBased reports whether the profile uses a slab table.
func (p Profile) SlabBased() bool {
	return len(p.Slabs) > 0
}

// MinimumFare is the lowest amount the tariff can produce, after discount.
func (p Profile) MinimumFare() float64 {
	if p.Mode.Category() == CategoryActive {
		return 0
	}
	floor := p.BaseFare
	if p.SlabBased() {
		floor = p.Slabs[0].Fare
	}
	return floor * (1 - p.Discount)
}

func (p Profile) validate() error {
	if !p.Mode.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownMode, int(p.Mode))
	}
	for name, v := range map[string]float64{
		"base_fare":         p.BaseFare,
		"per_km_rate":       p.PerKmRate,
		"per_minute_rate":   p.PerMinuteRate,
		"max_fare":          p.MaxFare,
		"max_distance_km":   p.MaxDistanceKm,
		"access_radius_km":  p.AccessRadiusKm,
		"average_speed_kmh": p.AverageSpeedKmh,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s: %s must be a finite non-negative number", ErrInvalidCatalog, p.Mode, name)
		}
	}
	if p.AverageSpeedKmh == 0 {
		return fmt.Errorf("%w: %s: average_speed_kmh must be positive", ErrInvalidCatalog, p.Mode)
	}
	if p.MaxFare > 0 && p.MaxFare < p.BaseFare {
		return fmt.Errorf("%w: %s: max_fare is below base_fare", ErrInvalidCatalog, p.Mode)
	}
	if p.Discount < 0 || p.Discount >= 1 {
		return fmt.Errorf("%w: %s: discount must be in [0,1)", ErrInvalidCatalog, p.Mode)
	}
	if p.EcoRating < 0 || p.EcoRating > 1 || p.ComfortRating < 0 || p.ComfortRating > 1 {
		return fmt.Errorf("%w: %s: ratings must be in [0,1]", ErrInvalidCatalog, p.Mode)
	}
	switch p.Mode.Category() {
	case CategoryMetro:
		if !p.SlabBased() {
			return fmt.Errorf("%w: %s: metro modes need a slab table", ErrInvalidCatalog, p.Mode)
		}
	case CategoryActive:
		if p.BaseFare != 0 || p.PerKmRate != 0 || p.PerMinuteRate != 0 || p.SlabBased() {
			return fmt.Errorf("%w: %s: active modes are free", ErrInvalidCatalog, p.Mode)
		}
	case CategoryBus, CategoryRideHail:
		if p.SlabBased() {
			return fmt.Errorf("%w: %s: slab tables are only supported for metro", ErrInvalidCatalog, p.Mode)
		}
	}
	for i, s := range p.Slabs {
		if s.MaxKm <= 0 || s.Fare < 0 {
			return fmt.Errorf("%w: %s: slab %d must have positive max_km and non-negative fare", ErrInvalidCatalog, p.Mode, i)
		}
		if i > 0 && s.Fare < p.Slabs[i-1].Fare {
			return fmt.Errorf("%w: %s: slab fares must not decrease with distance", ErrInvalidCatalog, p.Mode)
		}
	}
	return nil
}

// Catalog is the immutable set of mode profiles loaded at start.
// It is safe for concurrent use and must not be modified after NewCatalog.
type Catalog struct {
	profiles    [modeCount]Profile
	serviceArea BoundingBox
}

// NewCatalog validates profiles and builds a catalog. Every mode must be
// described exactly once.
func NewCatalog(profiles []Profile, serviceArea BoundingBox) (*Catalog, error) {
	c := &Catalog{serviceArea: serviceArea}
	var seen [modeCount]bool

	for _, p := range profiles {
		slabs := append([]Slab(nil), p.Slabs...)
		sort.SliceStable(slabs, func(i, j int) bool { return slabs[i].MaxKm < slabs[j].MaxKm })
		p.Slabs = slabs

		if err := p.validate(); err != nil {
			return nil, err
		}
		if seen[p.Mode] {
			return nil, fmt.Errorf("%w: duplicate profile for %s", ErrInvalidCatalog, p.Mode)
		}
		seen[p.Mode] = true
		c.profiles[p.Mode] = p
	}

	for m := Mode(0); m < modeCount; m++ {
		if !seen[m] {
			return nil, fmt.Errorf("%w: missing profile for %s", ErrInvalidCatalog, m)
		}
	}
	return c, nil
}

// Profile returns a copy of the profile for m.
func (c *Catalog) Profile(m Mode) Profile {
	p := c.profiles[m]
	p.Slabs = append([]Slab(nil), p.Slabs...)
	return p
}

// ServiceArea returns the configured service area. A zero box disables
// service-area checks.
func (c *Catalog) ServiceArea() BoundingBox {
	return c.serviceArea
}

// InServiceArea reports whether l is inside the service area.
func (c *Catalog) InServiceArea(l Location) bool {
	return c.serviceArea.IsZero() || c.serviceArea.Contains(l)
}
