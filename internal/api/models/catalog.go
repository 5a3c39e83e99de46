package models

import (
	"github.com/wayforge/wayforge/internal/livesignal"
	"github.com/wayforge/wayforge/internal/transit"
)

// ModeInfo describes a mode and its tariff.
type ModeInfo struct {
	Mode     transit.Mode      `json:"mode"`
	Category transit.Category  `json:"category"`
	Tariff   transit.Profile   `json:"tariff"`
	Feeds    []livesignal.Feed `json:"feeds,omitempty"`
}

// ModeList is the body of GET /v1/modes.
type ModeList struct {
	Modes       []ModeInfo          `json:"modes"`
	ServiceArea transit.BoundingBox `json:"serviceArea"`
}

// Stop is a boarding point with its distance from the query point.
type Stop struct {
	transit.Stop
	DistanceKm float64 `json:"distanceKm"`
}

// StopList is the body of GET /v1/stops.
type StopList struct {
	Near     Point   `json:"near"`
	RadiusKm float64 `json:"radiusKm"`
	Stops    []Stop  `json:"stops"`
}

// SignalSummary is the body of GET /v1/signals.
type SignalSummary struct {
	Signals    map[livesignal.Feed]int `json:"signals"`
	Accepted   int64                   `json:"accepted"`
	Dropped    int64                   `json:"dropped"`
	Superseded int64                   `json:"superseded"`
	Pruned     int64                   `json:"pruned"`
	MaxAgeSec  float64                 `json:"maxAgeSeconds"`
	AsOf       Timestamp               `json:"asOf"`
}
