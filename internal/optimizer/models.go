// Package optimizer is the engine entry point: it generates candidates for a
// trip, scores them under a strategy and returns a ranked, explained result.
package optimizer

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/wayforge/wayforge/internal/candidate"
	"github.com/wayforge/wayforge/internal/scoring"
	"github.com/wayforge/wayforge/internal/transit"
)

// Diagnostic codes attached to a result.
const (
	DiagnosticNoViableCandidates = "NoViableCandidates"
	DiagnosticOutsideServiceArea = "OutsideServiceArea"
	DiagnosticNoLiveData         = "NoLiveData"
)

// Request is one optimization request.
type Request struct {
	Source      transit.Location `json:"source"`
	Destination transit.Location `json:"destination"`

	// Strategy defaults to Balanced.
	Strategy scoring.Strategy `json:"strategy,omitempty"`

	// Modes to consider; empty means every mode.
	Modes []transit.Mode `json:"modes,omitempty"`
}

// Option is a ranked candidate.
type Option struct {
	Rank int `json:"rank"`
	scoring.Scored
	Explanation scoring.Explanation `json:"explanation"`
}

// Diagnostic is a result-level note for the caller.
type Diagnostic struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the ranked outcome of one request. Options are best first.
type Result struct {
	ID          uuid.UUID             `json:"id"`
	Strategy    scoring.Strategy      `json:"strategy"`
	Source      transit.Location      `json:"source"`
	Destination transit.Location      `json:"destination"`
	Options     []Option              `json:"options"`
	Excluded    []candidate.Exclusion `json:"excluded"`
	Diagnostics []Diagnostic          `json:"diagnostics,omitempty"`

	// LiveAsOf is when the live snapshot used by this request was taken.
	LiveAsOf    time.Time `json:"liveAsOf"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Viable reports whether at least one option was produced.
func (r *Result) Viable() bool {
	return r != nil && len(r.Options) > 0
}

// Best returns the top-ranked option.
func (r *Result) Best() (Option, bool) {
	if !r.Viable() {
		return Option{}, false
	}
	return r.Options[0], true
}

// HasDiagnostic reports whether a diagnostic with the given code is present.
func (r *Result) HasDiagnostic(code string) bool {
	return lo.ContainsBy(r.Diagnostics, func(d Diagnostic) bool { return d.Code == code })
}
