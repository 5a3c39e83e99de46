// Package candidate builds one route candidate per requested mode,
// annotated with distance, nominal duration, live conditions and fare, and
// records why the other modes were left out.
package candidate

import (
	"github.com/wayforge/wayforge/internal/fare"
	"github.com/wayforge/wayforge/internal/livesignal"
	"github.com/wayforge/wayforge/internal/transit"
)

// Freshness tells whether a candidate used live data.
type Freshness string

const (
	FreshnessLive     Freshness = "LIVE"
	FreshnessFallback Freshness = "FALLBACK"
)

// Reason is why a mode produced no candidate.
type Reason string

const (
	ReasonOutOfBounds         Reason = "OutOfBounds"
	ReasonNoLiveData          Reason = "NoLiveData"
	ReasonDistanceExceedsMode Reason = "DistanceExceedsMode"
)

// Exclusion records a mode that produced no candidate.
type Exclusion struct {
	Mode   transit.Mode `json:"mode"`
	Reason Reason       `json:"reason"`
	Detail string       `json:"detail"`
}

// Candidate is one way of making the trip. It is owned by a single request.
type Candidate struct {
	Mode           transit.Mode   `json:"mode"`
	DistanceKm     float64        `json:"distanceKm"`
	DistanceSource DistanceSource `json:"distanceSource"`

	NominalDurationMin float64 `json:"nominalDurationMin"`

	// AppliedDelayMin is the total live adjustment to the nominal duration:
	// the reported feed delay plus the congestion adjustment.
	AppliedDelayMin         float64 `json:"appliedDelayMin"`
	FeedDelayMin            float64 `json:"feedDelayMin"`
	CongestionAdjustmentMin float64 `json:"congestionAdjustmentMin"`

	Fare fare.Quote `json:"fare"`

	// EcoRating and ComfortRating are the static ratings of the mode.
	EcoRating     float64 `json:"ecoRating"`
	ComfortRating float64 `json:"comfortRating"`

	Freshness  Freshness             `json:"freshness"`
	Occupancy  livesignal.Occupancy  `json:"occupancy,omitempty"`
	Congestion livesignal.Congestion `json:"congestion,omitempty"`
	Signals    []livesignal.Signal   `json:"signals,omitempty"`

	// Geometry is the encoded polyline of the path.
	Geometry string `json:"geometry,omitempty"`
}

// EffectiveDurationMin is the expected travel time including live delay
// and congestion.
func (c Candidate) EffectiveDurationMin() float64 {
	return c.NominalDurationMin + c.AppliedDelayMin
}

// Generation is the outcome of candidate generation for one request.
// Both slices are in mode declaration order.
type Generation struct {
	Candidates []Candidate
	Excluded   []Exclusion
}
