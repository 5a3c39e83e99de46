// Package geocode turns free text into locations and locations into display
// names using a Nominatim-compatible service.
package geocode

import (
	"errors"

	"github.com/wayforge/wayforge/internal/transit"
)

var (
	// ErrNoResult is returned when the service has no match.
	ErrNoResult = errors.New("no geocoding result")

	// ErrProviderUnavailable is returned when the service cannot be reached
	// or answers with a server error.
	ErrProviderUnavailable = errors.New("geocoding provider unavailable")

	// ErrEmptyQuery is returned for a blank search text.
	ErrEmptyQuery = errors.New("empty geocoding query")
)

// Place is a geocoding match.
type Place struct {
	Location    transit.Location `json:"location"`
	DisplayName string           `json:"displayName"`
}

// Error is a geocoding provider error.
type Error struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type reverseResult struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}
