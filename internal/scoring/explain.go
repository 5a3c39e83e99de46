package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wayforge/wayforge/internal/candidate"
)

// Contribution is one component's share of the composite score.
type Contribution struct {
	Component    string  `json:"component"`
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Explanation breaks a composite score into its parts.
type Explanation struct {
	Mode          string         `json:"mode"`
	Strategy      Strategy       `json:"strategy"`
	Composite     float64        `json:"composite"`
	Contributions []Contribution `json:"contributions"`
	Freshness     string         `json:"freshness"`
	Notes         []string       `json:"notes,omitempty"`
	Summary       string         `json:"summary"`
}

// Explain describes how a scored candidate got its composite. Contributions
// are listed largest first.
func Explain(s Scored) Explanation {
	contribs := []Contribution{
		{Component: "time", Score: s.Components.Time, Weight: s.Weights.Time},
		{Component: "cost", Score: s.Components.Cost, Weight: s.Weights.Cost},
		{Component: "eco", Score: s.Components.Eco, Weight: s.Weights.Eco},
		{Component: "comfort", Score: s.Components.Comfort, Weight: s.Weights.Comfort},
	}
	for i := range contribs {
		contribs[i].Contribution = contribs[i].Score * contribs[i].Weight
	}
	sort.SliceStable(contribs, func(i, j int) bool {
		return contribs[i].Contribution > contribs[j].Contribution
	})

	c := s.Candidate
	var notes []string
	if c.Freshness == candidate.FreshnessFallback {
		notes = append(notes, "no fresh live data; static schedule used")
	}
	if c.FeedDelayMin > 0 {
		notes = append(notes, fmt.Sprintf("includes %.1f min reported delay", c.FeedDelayMin))
	}
	if c.CongestionAdjustmentMin > 0 {
		notes = append(notes, fmt.Sprintf("includes %.1f min for %s traffic",
			c.CongestionAdjustmentMin, strings.ToLower(string(c.Congestion))))
	}
	if c.Fare.Surge > 1 {
		notes = append(notes, fmt.Sprintf("surge %.2fx applied", c.Fare.Surge))
	}
	if c.Fare.Degraded {
		notes = append(notes, "fare could not be computed; minimum fare shown")
	}
	if c.Occupancy != "" {
		notes = append(notes, "vehicle occupancy "+strings.ToLower(strings.ReplaceAll(string(c.Occupancy), "_", " ")))
	}

	return Explanation{
		Mode:          c.Mode.String(),
		Strategy:      s.Strategy,
		Composite:     s.Composite,
		Contributions: contribs,
		Freshness:     string(c.Freshness),
		Notes:         notes,
		Summary: fmt.Sprintf("%s: %.1f km, %.0f min, %.2f %s, score %.3f (%s led)",
			c.Mode, c.DistanceKm, c.EffectiveDurationMin(), c.Fare.Amount, c.Fare.Currency,
			s.Composite, contribs[0].Component),
	}
}
