// Package fare computes trip fares from the static tariff catalog.
package fare

import (
	"math"

	"github.com/wayforge/wayforge/internal/transit"
)

// Currency is the ISO code of every quoted amount.
const Currency = "INR"

// Model names the tariff structure that produced a quote.
type Model string

const (
	ModelLinear Model = "LINEAR"
	ModelSlab   Model = "SLAB"
	ModelFree   Model = "FREE"
)

// Quote is the fare for one trip on one mode.
type Quote struct {
	Mode     transit.Mode `json:"mode"`
	Amount   float64      `json:"amount"`
	Currency string       `json:"currency"`
	Model    Model        `json:"model"`

	// Surge is the multiplier applied to the tariff amount (1 when none).
	Surge float64 `json:"surge"`

	// Degraded is set when the inputs or the result were unusable and the
	// mode's minimum fare was returned instead.
	Degraded bool `json:"degraded,omitempty"`
}

// Registry computes fares for every mode in a catalog.
// It holds no mutable state and is safe for concurrent use.
type Registry struct {
	catalog *transit.Catalog
}

// NewRegistry creates a registry over catalog.
func NewRegistry(catalog *transit.Catalog) *Registry {
	return &Registry{catalog: catalog}
}

// Fare returns the fare for travelling distanceKm in durationMin on mode m.
func (r *Registry) Fare(m transit.Mode, distanceKm, durationMin float64) Quote {
	return r.FareWithSurge(m, distanceKm, durationMin, 1)
}

// FareWithSurge is Fare with a dynamic pricing multiplier. The multiplier
// only affects surge-eligible modes and values below 1 are treated as 1.
func (r *Registry) FareWithSurge(m transit.Mode, distanceKm, durationMin, surge float64) Quote {
	p := r.catalog.Profile(m)
	q := Quote{Mode: m, Currency: Currency, Model: modelFor(m), Surge: 1}

	if !finite(distanceKm) || distanceKm < 0 {
		q.Amount = round2(p.MinimumFare())
		q.Degraded = true
		return q
	}
	if !finite(durationMin) || durationMin < 0 {
		durationMin = 0
	}

	var amount float64
	switch m.Category() {
	case transit.CategoryMetro:
		amount = slabFare(p, distanceKm)
	case transit.CategoryBus, transit.CategoryRideHail:
		amount = linearFare(p, distanceKm, durationMin)
	case transit.CategoryActive:
		amount = 0
	}

	if p.SurgeEligible {
		q.Surge = normalizeSurge(surge)
		amount *= q.Surge
	}

	amount = round2(amount)
	if !finite(amount) || amount < 0 {
		q.Amount = round2(p.MinimumFare())
		q.Surge = 1
		q.Degraded = true
		return q
	}

	q.Amount = amount
	return q
}

// MinimumFare returns the lowest fare mode m can charge.
func (r *Registry) MinimumFare(m transit.Mode) float64 {
	return round2(r.catalog.Profile(m).MinimumFare())
}

func modelFor(m transit.Mode) Model {
	switch m.Category() {
	case transit.CategoryMetro:
		return ModelSlab
	case transit.CategoryActive:
		return ModelFree
	default:
		return ModelLinear
	}
}

// linearFare is base + perKm*d + perMinute*t, floored at base and capped at
// MaxFare when one is set.
func linearFare(p transit.Profile, distanceKm, durationMin float64) float64 {
	amount := p.BaseFare + p.PerKmRate*distanceKm + p.PerMinuteRate*durationMin
	amount = math.Max(amount, p.BaseFare)
	if p.MaxFare > 0 {
		amount = math.Min(amount, p.MaxFare)
	}
	return amount * (1 - p.Discount)
}

// slabFare picks the smallest slab covering distanceKm. Trips longer than
// the table pay the top slab.
func slabFare(p transit.Profile, distanceKm float64) float64 {
	fare := p.Slabs[len(p.Slabs)-1].Fare
	for _, s := range p.Slabs {
		if s.MaxKm >= distanceKm {
			fare = s.Fare
			break
		}
	}
	return fare * (1 - p.Discount)
}

func normalizeSurge(s float64) float64 {
	if !finite(s) || s < 1 {
		return 1
	}
	return s
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
