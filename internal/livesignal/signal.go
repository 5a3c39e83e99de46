// Package livesignal keeps the freshest live observation per vehicle or
// corridor and answers proximity queries for the optimizer.
package livesignal

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/wayforge/wayforge/internal/transit"
)

// Live signal errors.
var (
	// ErrNoLiveSignal means no fresh signal matched the query. Callers fall
	// back to static data.
	ErrNoLiveSignal = errors.New("no live signal")

	// ErrMalformedRecord means an ingested record could not be normalized.
	ErrMalformedRecord = errors.New("malformed signal record")
)

// Feed identifies a live data source.
type Feed string

const (
	FeedBus      Feed = "bus"
	FeedMetro    Feed = "metro"
	FeedTraffic  Feed = "traffic"
	FeedRideHail Feed = "ride_hail"
)

// Feeds lists every known feed.
func Feeds() []Feed {
	return []Feed{FeedBus, FeedMetro, FeedTraffic, FeedRideHail}
}

func parseFeed(s string) (Feed, bool) {
	f := Feed(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FeedBus, FeedMetro, FeedTraffic, FeedRideHail:
		return f, true
	default:
		return "", false
	}
}

// FeedsFor returns the feeds whose signals apply to mode m.
func FeedsFor(m transit.Mode) []Feed {
	switch m.Category() {
	case transit.CategoryBus:
		return []Feed{FeedBus, FeedTraffic}
	case transit.CategoryMetro:
		return []Feed{FeedMetro}
	case transit.CategoryRideHail:
		return []Feed{FeedTraffic, FeedRideHail}
	case transit.CategoryActive:
		return nil
	default:
		return nil
	}
}

// Occupancy is how full a vehicle is.
type Occupancy string

const (
	OccupancyUnknown  Occupancy = ""
	OccupancyEmpty    Occupancy = "EMPTY"
	OccupancyMany     Occupancy = "MANY_SEATS_AVAILABLE"
	OccupancyFew      Occupancy = "FEW_SEATS_AVAILABLE"
	OccupancyStanding Occupancy = "STANDING_ROOM_ONLY"
	OccupancyCrushed  Occupancy = "CRUSHED_STANDING_ROOM_ONLY"
	OccupancyFull     Occupancy = "FULL"
)

// ParseOccupancy accepts the canonical names and a few short aliases.
// Unknown values map to OccupancyUnknown.
func ParseOccupancy(s string) Occupancy {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EMPTY":
		return OccupancyEmpty
	case "MANY_SEATS_AVAILABLE", "LOW":
		return OccupancyMany
	case "FEW_SEATS_AVAILABLE", "MEDIUM":
		return OccupancyFew
	case "STANDING_ROOM_ONLY", "HIGH":
		return OccupancyStanding
	case "CRUSHED_STANDING_ROOM_ONLY":
		return OccupancyCrushed
	case "FULL", "NOT_ACCEPTING_PASSENGERS":
		return OccupancyFull
	default:
		return OccupancyUnknown
	}
}

// Crowding maps occupancy to [0,1], 0 being empty. Unknown is 0.
func (o Occupancy) Crowding() float64 {
	switch o {
	case OccupancyEmpty:
		return 0
	case OccupancyMany:
		return 0.2
	case OccupancyFew:
		return 0.5
	case OccupancyStanding:
		return 0.75
	case OccupancyCrushed:
		return 0.9
	case OccupancyFull:
		return 1
	default:
		return 0
	}
}

// Congestion is the traffic level on a corridor.
type Congestion string

const (
	CongestionUnknown  Congestion = ""
	CongestionLight    Congestion = "LIGHT"
	CongestionModerate Congestion = "MODERATE"
	CongestionHeavy    Congestion = "HEAVY"
	CongestionSevere   Congestion = "SEVERE"
)

// ParseCongestion parses a congestion level name.
func ParseCongestion(s string) Congestion {
	switch c := Congestion(strings.ToUpper(strings.TrimSpace(s))); c {
	case CongestionLight, CongestionModerate, CongestionHeavy, CongestionSevere:
		return c
	default:
		return CongestionUnknown
	}
}

// CongestionFromRatio classifies a travel-time ratio (actual / free flow).
func CongestionFromRatio(ratio float64) Congestion {
	switch {
	case !finite(ratio) || ratio <= 0:
		return CongestionUnknown
	case ratio < 1.1:
		return CongestionLight
	case ratio < 1.3:
		return CongestionModerate
	case ratio < 1.6:
		return CongestionHeavy
	default:
		return CongestionSevere
	}
}

// Signal is one normalized live observation.
type Signal struct {
	Feed     Feed   `json:"feed"`
	EntityID string `json:"entityId"`

	// RouteID is the bus route, metro line or road corridor.
	RouteID string `json:"routeId,omitempty"`

	// Mode narrows the signal to a single mode when ModeSpecific is set.
	Mode         transit.Mode `json:"mode"`
	ModeSpecific bool         `json:"modeSpecific"`

	Position   transit.Location `json:"position"`
	SpeedKmh   float64          `json:"speedKmh"`
	DelayMin   float64          `json:"delayMin"`
	Occupancy  Occupancy        `json:"occupancy,omitempty"`
	Congestion Congestion       `json:"congestion,omitempty"`

	// Surge is the ride-hail pricing multiplier, 0 when not reported.
	Surge float64 `json:"surge,omitempty"`

	// Timestamp is when the source observed the value.
	Timestamp time.Time `json:"timestamp"`

	// ReceivedAt is when this process ingested it.
	ReceivedAt time.Time `json:"receivedAt"`
}

// AppliesTo reports whether s carries information for mode m.
func (s Signal) AppliesTo(m transit.Mode) bool {
	if s.ModeSpecific && s.Mode != m {
		return false
	}
	return lo.Contains(FeedsFor(m), s.Feed)
}

// Record is the wire form of a live observation as pushed by feed
// publishers. Pointer fields distinguish missing values from zeros.
type Record struct {
	Feed       string   `json:"feed"`
	Mode       string   `json:"mode,omitempty"`
	EntityID   string   `json:"entity_id"`
	RouteID    string   `json:"route_id,omitempty"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	Speed      *float64 `json:"speed,omitempty"`
	Occupancy  string   `json:"occupancy,omitempty"`
	DelayMin   *float64 `json:"delay_minutes,omitempty"`
	Congestion string   `json:"congestion,omitempty"`
	DelayRatio *float64 `json:"delay_ratio,omitempty"`
	Surge      *float64 `json:"surge,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

// Normalize validates r and converts it into a Signal.
func (r Record) Normalize(receivedAt time.Time) (Signal, error) {
	feed, ok := parseFeed(r.Feed)
	if !ok {
		return Signal{}, fmt.Errorf("%w: unknown feed %q", ErrMalformedRecord, r.Feed)
	}
	if strings.TrimSpace(r.EntityID) == "" {
		return Signal{}, fmt.Errorf("%w: missing entity_id", ErrMalformedRecord)
	}
	if r.Lat == nil || r.Lng == nil {
		return Signal{}, fmt.Errorf("%w: missing coordinates", ErrMalformedRecord)
	}
	pos := transit.Location{Lat: *r.Lat, Lon: *r.Lng}
	if err := pos.Validate(); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if r.Timestamp <= 0 {
		return Signal{}, fmt.Errorf("%w: missing timestamp", ErrMalformedRecord)
	}

	s := Signal{
		Feed:       feed,
		EntityID:   r.EntityID,
		RouteID:    r.RouteID,
		Position:   pos,
		Occupancy:  ParseOccupancy(r.Occupancy),
		Congestion: ParseCongestion(r.Congestion),
		Timestamp:  time.Unix(r.Timestamp, 0).UTC(),
		ReceivedAt: receivedAt,
	}

	if r.Mode != "" {
		m, err := transit.ParseMode(r.Mode)
		if err != nil {
			return Signal{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
		s.Mode = m
		s.ModeSpecific = true
	}

	if r.Speed != nil {
		if !finite(*r.Speed) || *r.Speed < 0 {
			return Signal{}, fmt.Errorf("%w: speed must be a finite non-negative number", ErrMalformedRecord)
		}
		s.SpeedKmh = *r.Speed
	}
	if r.DelayMin != nil {
		if !finite(*r.DelayMin) {
			return Signal{}, fmt.Errorf("%w: delay must be finite", ErrMalformedRecord)
		}
		// Early running is not credited.
		s.DelayMin = math.Max(0, *r.DelayMin)
	}
	if r.Surge != nil {
		if !finite(*r.Surge) || *r.Surge < 0 {
			return Signal{}, fmt.Errorf("%w: surge must be a finite non-negative number", ErrMalformedRecord)
		}
		s.Surge = *r.Surge
	}
	if s.Congestion == CongestionUnknown && r.DelayRatio != nil {
		s.Congestion = CongestionFromRatio(*r.DelayRatio)
	}

	return s, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
