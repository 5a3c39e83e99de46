// Package scoring turns route candidates into normalized time, cost, eco
// and comfort scores and combines them per ranking strategy.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownStrategy is returned for a strategy name that is not configured.
var ErrUnknownStrategy = errors.New("unknown strategy")

// ErrInvalidWeights is returned when a weight set cannot be normalized.
var ErrInvalidWeights = errors.New("invalid strategy weights")

// Strategy selects the weights used to combine component scores.
type Strategy string

const (
	StrategyFastest  Strategy = "FASTEST"
	StrategyCheapest Strategy = "CHEAPEST"
	StrategyEco      Strategy = "ECO"
	StrategyBalanced Strategy = "BALANCED"
)

// Strategies lists the built-in strategies.
func Strategies() []Strategy {
	return []Strategy{StrategyFastest, StrategyCheapest, StrategyEco, StrategyBalanced}
}

// ParseStrategy parses a strategy name case-insensitively. An empty name
// selects StrategyBalanced.
func ParseStrategy(s string) (Strategy, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return StrategyBalanced, nil
	}
	for _, st := range Strategies() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	st, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Weights are the relative importance of each component.
type Weights struct {
	Time    float64 `json:"time" yaml:"time"`
	Cost    float64 `json:"cost" yaml:"cost"`
	Eco     float64 `json:"eco" yaml:"eco"`
	Comfort float64 `json:"comfort" yaml:"comfort"`
}

func (w Weights) sum() float64 {
	return w.Time + w.Cost + w.Eco + w.Comfort
}

// Validate checks that every weight is finite and non-negative and that at
// least one is positive.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Time, w.Cost, w.Eco, w.Comfort} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %+v", ErrInvalidWeights, w)
		}
	}
	if w.sum() <= 0 {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidWeights)
	}
	return nil
}

// Normalized scales the weights to sum to 1.
func (w Weights) Normalized() Weights {
	s := w.sum()
	if s <= 0 {
		return w
	}
	return Weights{Time: w.Time / s, Cost: w.Cost / s, Eco: w.Eco / s, Comfort: w.Comfort / s}
}

// Table maps each strategy to its weights.
type Table map[Strategy]Weights

// DefaultTable returns the built-in weights.
func DefaultTable() Table {
	return Table{
		StrategyFastest:  {Time: 1},
		StrategyCheapest: {Cost: 1},
		StrategyEco:      {Eco: 1},
		StrategyBalanced: {Time: 0.4, Cost: 0.3, Eco: 0.2, Comfort: 0.1},
	}
}

// Validate checks every entry and that the built-in strategies are present.
func (t Table) Validate() error {
	for _, st := range Strategies() {
		if _, ok := t[st]; !ok {
			return fmt.Errorf("%w: missing weights for %s", ErrInvalidWeights, st)
		}
	}
	for st, w := range t {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("strategy %s: %w", st, err)
		}
	}
	return nil
}

// Merge returns a copy of t with the entries of override replacing its own.
func (t Table) Merge(override Table) Table {
	out := make(Table, len(t)+len(override))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
