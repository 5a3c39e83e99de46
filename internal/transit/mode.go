package transit

import (
	"fmt"
	"strings"
)

// Mode is a transport mode the optimizer can rank.
// The declaration order is significant: it is the last tie-break when
// ranking candidates, so new modes must be appended before modeCount.
type Mode int

const (
	BusOrdinary Mode = iota
	BusAC
	BusDeluxe
	BusPremium
	MetroToken
	MetroSmartCard
	Taxi
	Auto
	Walking
	Cycling

	modeCount
)

var modeNames = [modeCount]string{
	BusOrdinary:    "bus_ordinary",
	BusAC:          "bus_ac",
	BusDeluxe:      "bus_deluxe",
	BusPremium:     "bus_premium",
	MetroToken:     "metro_token",
	MetroSmartCard: "metro_smart_card",
	Taxi:           "taxi",
	Auto:           "auto",
	Walking:        "walking",
	Cycling:        "cycling",
}

// AllModes returns every mode in declaration order.
func AllModes() []Mode {
	modes := make([]Mode, 0, modeCount)
	for m := Mode(0); m < modeCount; m++ {
		modes = append(modes, m)
	}
	return modes
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m >= 0 && m < modeCount
}

func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode parses the snake_case name of a mode.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m := Mode(0); m < modeCount; m++ {
		if modeNames[m] == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(modeNames[m]), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Category groups modes that share a live feed and fare structure.
type Category string

const (
	CategoryBus      Category = "BUS"
	CategoryMetro    Category = "METRO"
	CategoryRideHail Category = "RIDE_HAIL"
	CategoryActive   Category = "ACTIVE"
)

// Category returns the category m belongs to.
func (m Mode) Category() Category {
	switch m {
	case BusOrdinary, BusAC, BusDeluxe, BusPremium:
		return CategoryBus
	case MetroToken, MetroSmartCard:
		return CategoryMetro
	case Taxi, Auto:
		return CategoryRideHail
	case Walking, Cycling:
		return CategoryActive
	default:
		panic(fmt.Sprintf("transit: unhandled mode %d", int(m)))
	}
}
