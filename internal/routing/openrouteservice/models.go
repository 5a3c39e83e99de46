package openrouteservice

// orsRequest is the directions request body.
type orsRequest struct {
	Coordinates  [][]float64 `json:"coordinates"`
	Radiuses     []float64   `json:"radiuses,omitempty"`
	Preference   string      `json:"preference,omitempty"`
	Instructions bool        `json:"instructions"`
	Geometry     bool        `json:"geometry"`
	Units        string      `json:"units"`
}

type orsResponse struct {
	Routes []orsRoute `json:"routes"`
}

type orsRoute struct {
	Summary  routeSummary `json:"summary"`
	Geometry string       `json:"geometry"`
}

type routeSummary struct {
	Distance float64 `json:"distance"` // metres
	Duration float64 `json:"duration"` // seconds
}

type orsErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ORS internal error codes.
const (
	orsErrorCodePointNotFound = 2010
	orsErrorCodeRouteNotFound = 2009
)
