package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/wayforge/wayforge/internal/candidate"
)

// compositeEpsilon is the difference below which two composites are equal.
const compositeEpsilon = 1e-9

// Components are the per-criterion scores of a candidate, each in [0,1].
type Components struct {
	Time    float64 `json:"time"`
	Cost    float64 `json:"cost"`
	Eco     float64 `json:"eco"`
	Comfort float64 `json:"comfort"`
}

// Scored is a candidate with its scores under one strategy.
type Scored struct {
	Candidate  candidate.Candidate `json:"candidate"`
	Strategy   Strategy            `json:"strategy"`
	Weights    Weights             `json:"weights"`
	Components Components          `json:"components"`
	Composite  float64             `json:"composite"`
}

// Config holds configuration for the engine.
type Config struct {
	// Weights overrides entries of DefaultTable.
	Weights Table

	// CrowdingPenalty is how much of the comfort rating a full vehicle
	// takes away (default: 0.5).
	CrowdingPenalty float64
}

// Engine scores candidates. It holds no mutable state.
type Engine struct {
	weights         Table
	crowdingPenalty float64
}

// NewEngine creates an engine, validating the weight table.
func NewEngine(cfg Config) (*Engine, error) {
	table := DefaultTable().Merge(cfg.Weights)
	if err := table.Validate(); err != nil {
		return nil, err
	}
	penalty := cfg.CrowdingPenalty
	if penalty == 0 {
		penalty = 0.5
	}
	if penalty < 0 || penalty > 1 || math.IsNaN(penalty) {
		return nil, fmt.Errorf("crowding penalty %v out of [0,1]", penalty)
	}
	return &Engine{weights: table, crowdingPenalty: penalty}, nil
}

// Weights returns the normalized weights of a strategy.
func (e *Engine) Weights(s Strategy) (Weights, error) {
	w, ok := e.weights[s]
	if !ok {
		return Weights{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
	return w.Normalized(), nil
}

// Score scores every candidate against the others in the same request and
// returns them best first.
func (e *Engine) Score(cands []candidate.Candidate, s Strategy) ([]Scored, error) {
	w, err := e.Weights(s)
	if err != nil {
		return nil, err
	}

	var timeCeiling, costCeiling float64
	for _, c := range cands {
		if d := c.EffectiveDurationMin(); d > timeCeiling {
			timeCeiling = d
		}
		if f := c.Fare.Amount; f > costCeiling {
			costCeiling = f
		}
	}

	out := make([]Scored, len(cands))
	for i, c := range cands {
		comp := Components{
			Time:    relativeScore(c.EffectiveDurationMin(), timeCeiling),
			Cost:    relativeScore(c.Fare.Amount, costCeiling),
			Eco:     unit(c.EcoRating),
			Comfort: unit(c.ComfortRating * (1 - e.crowdingPenalty*c.Occupancy.Crowding())),
		}
		out[i] = Scored{
			Candidate:  c,
			Strategy:   s,
			Weights:    w,
			Components: comp,
			Composite:  unit(w.Time*comp.Time + w.Cost*comp.Cost + w.Eco*comp.Eco + w.Comfort*comp.Comfort),
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out, nil
}

// Less orders by composite descending, then lower fare, shorter distance
// and mode declaration order.
func Less(a, b Scored) bool {
	if d := a.Composite - b.Composite; math.Abs(d) > compositeEpsilon {
		return d > 0
	}
	if a.Candidate.Fare.Amount != b.Candidate.Fare.Amount {
		return a.Candidate.Fare.Amount < b.Candidate.Fare.Amount
	}
	if a.Candidate.DistanceKm != b.Candidate.DistanceKm {
		return a.Candidate.DistanceKm < b.Candidate.DistanceKm
	}
	return a.Candidate.Mode < b.Candidate.Mode
}

// relativeScore is 1 for the best value and 0 at the ceiling.
func relativeScore(v, ceiling float64) float64 {
	if ceiling <= 0 || math.IsNaN(v) {
		return 1
	}
	return unit(1 - math.Min(1, v/ceiling))
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return lo.Clamp(v, 0, 1)
}
