package models

import (
	"github.com/wayforge/wayforge/internal/candidate"
	"github.com/wayforge/wayforge/internal/optimizer"
	"github.com/wayforge/wayforge/internal/scoring"
	"github.com/wayforge/wayforge/internal/transit"
)

// OptimizeRequest is the body of POST /v1/routes:optimize. Each end is a
// point or a free text query that is geocoded.
type OptimizeRequest struct {
	Origin           *Point   `json:"origin,omitempty"`
	Destination      *Point   `json:"destination,omitempty"`
	OriginQuery      string   `json:"originQuery,omitempty"`
	DestinationQuery string   `json:"destinationQuery,omitempty"`
	Strategy         string   `json:"strategy,omitempty"`
	Modes            []string `json:"modes,omitempty"`
}

// OptimizeResponse is a ranked, explained result.
type OptimizeResponse struct {
	ID          string           `json:"id"`
	Strategy    scoring.Strategy `json:"strategy"`
	Origin      Point            `json:"origin"`
	Destination Point            `json:"destination"`
	Options     []RouteOption    `json:"options"`
	Excluded    []ExcludedMode   `json:"excluded"`
	Diagnostics []Diagnostic     `json:"diagnostics,omitempty"`
	LiveAsOf    Timestamp        `json:"liveAsOf"`
	GeneratedAt Timestamp        `json:"generatedAt"`
}

// RouteOption is one ranked mode.
type RouteOption struct {
	Rank       int                `json:"rank"`
	Mode       transit.Mode       `json:"mode"`
	Category   transit.Category   `json:"category"`
	DistanceKm float64            `json:"distanceKm"`
	Duration   Duration           `json:"duration"`
	Fare       Fare               `json:"fare"`
	Freshness  string             `json:"freshness"`
	Occupancy  string             `json:"occupancy,omitempty"`
	Congestion string             `json:"congestion,omitempty"`
	Scores     scoring.Components `json:"scores"`
	Composite  float64            `json:"composite"`
	Geometry   string             `json:"geometry,omitempty"`

	Explanation scoring.Explanation `json:"explanation"`
}

// Duration splits travel time into its parts, in minutes.
type Duration struct {
	NominalMin    float64 `json:"nominalMin"`
	FeedDelayMin  float64 `json:"feedDelayMin"`
	CongestionMin float64 `json:"congestionMin"`
	EffectiveMin  float64 `json:"effectiveMin"`
}

// Fare is the quoted price.
type Fare struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Model    string  `json:"model"`
	Surge    float64 `json:"surge,omitempty"`
	Degraded bool    `json:"degraded,omitempty"`
}

// ExcludedMode is a mode that produced no option.
type ExcludedMode struct {
	Mode   transit.Mode `json:"mode"`
	Reason string       `json:"reason"`
	Detail string       `json:"detail"`
}

// Diagnostic is a result-level note.
type Diagnostic struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewOptimizeResponse converts an optimizer result.
func NewOptimizeResponse(res *optimizer.Result) OptimizeResponse {
	out := OptimizeResponse{
		ID:          res.ID.String(),
		Strategy:    res.Strategy,
		Origin:      PointFrom(res.Source),
		Destination: PointFrom(res.Destination),
		Options:     make([]RouteOption, 0, len(res.Options)),
		Excluded:    make([]ExcludedMode, 0, len(res.Excluded)),
		LiveAsOf:    Timestamp(res.LiveAsOf),
		GeneratedAt: Timestamp(res.GeneratedAt),
	}
	for _, opt := range res.Options {
		out.Options = append(out.Options, newRouteOption(opt))
	}
	for _, ex := range res.Excluded {
		out.Excluded = append(out.Excluded, newExcludedMode(ex))
	}
	for _, d := range res.Diagnostics {
		out.Diagnostics = append(out.Diagnostics, Diagnostic{Code: d.Code, Message: d.Message})
	}
	return out
}

func newRouteOption(opt optimizer.Option) RouteOption {
	c := opt.Candidate
	return RouteOption{
		Rank:       opt.Rank,
		Mode:       c.Mode,
		Category:   c.Mode.Category(),
		DistanceKm: c.DistanceKm,
		Duration: Duration{
			NominalMin:    c.NominalDurationMin,
			FeedDelayMin:  c.FeedDelayMin,
			CongestionMin: c.CongestionAdjustmentMin,
			EffectiveMin:  c.EffectiveDurationMin(),
		},
		Fare: Fare{
			Amount:   c.Fare.Amount,
			Currency: c.Fare.Currency,
			Model:    string(c.Fare.Model),
			Surge:    c.Fare.Surge,
			Degraded: c.Fare.Degraded,
		},
		Freshness:   string(c.Freshness),
		Occupancy:   string(c.Occupancy),
		Congestion:  string(c.Congestion),
		Scores:      opt.Components,
		Composite:   opt.Composite,
		Geometry:    c.Geometry,
		Explanation: opt.Explanation,
	}
}

func newExcludedMode(ex candidate.Exclusion) ExcludedMode {
	return ExcludedMode{Mode: ex.Mode, Reason: string(ex.Reason), Detail: ex.Detail}
}
