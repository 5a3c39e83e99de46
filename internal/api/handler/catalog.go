package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/wayforge/wayforge/internal/api/models"
	"github.com/wayforge/wayforge/internal/api/response"
	"github.com/wayforge/wayforge/internal/livesignal"
	"github.com/wayforge/wayforge/internal/transit"
)

// Stop search limits, in kilometres.
const (
	defaultStopRadiusKm = 1.0
	maxStopRadiusKm     = 5.0
)

// StopLocator finds boarding points near a location.
type StopLocator interface {
	StopsNear(ctx context.Context, near transit.Location, radiusKm float64) ([]transit.Stop, error)
}

// SignalStats reports live signal ingestion.
type SignalStats interface {
	Stats() livesignal.Stats
}

// CatalogHandler serves the mode catalog, stops and live signal summary.
type CatalogHandler struct {
	catalog *transit.Catalog
	stops   StopLocator
	signals SignalStats
	clock   func() time.Time
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(catalog *transit.Catalog, stops StopLocator, signals SignalStats) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, stops: stops, signals: signals, clock: time.Now}
}

// ListModes handles GET /v1/modes - modes with their tariffs.
func (h *CatalogHandler) ListModes(w http.ResponseWriter, r *http.Request) {
	modes := lo.Map(transit.AllModes(), func(m transit.Mode, _ int) models.ModeInfo {
		return models.ModeInfo{
			Mode:     m,
			Category: m.Category(),
			Tariff:   h.catalog.Profile(m),
			Feeds:    livesignal.FeedsFor(m),
		}
	})
	response.JSON(w, r, http.StatusOK, models.ModeList{
		Modes:       modes,
		ServiceArea: h.catalog.ServiceArea(),
	})
}

// ListStops handles GET /v1/stops?lat=&lon=&radius_km= - stops near a point,
// nearest first.
func (h *CatalogHandler) ListStops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var errs []models.FieldError
	parse := func(field string, required bool, def float64) float64 {
		raw := q.Get(field)
		if raw == "" {
			if required {
				errs = append(errs, models.FieldError{Field: field, Message: "is required", Code: "REQUIRED"})
			}
			return def
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, models.FieldError{Field: field, Message: "must be a number", Code: "INVALID_FORMAT"})
		}
		return v
	}
	near := transit.Location{Lat: parse("lat", true, 0), Lon: parse("lon", true, 0)}
	radius := parse("radius_km", false, defaultStopRadiusKm)
	if radius <= 0 || radius > maxStopRadiusKm {
		errs = append(errs, models.FieldError{Field: "radius_km", Message: "must be in (0, 5]", Code: "OUT_OF_RANGE"})
	}
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid stop query", errs)
		return
	}

	stops, err := h.stops.StopsNear(r.Context(), near, radius)
	switch {
	case err == nil:
	case errors.Is(err, transit.ErrInvalidLocation):
		response.BadRequest(w, r, err.Error(), nil)
		return
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("stop lookup failed")
		response.ServiceUnavailable(w, r, "stop data is unavailable")
		return
	}

	response.JSON(w, r, http.StatusOK, models.StopList{
		Near:     models.PointFrom(near),
		RadiusKm: radius,
		Stops: lo.Map(stops, func(st transit.Stop, _ int) models.Stop {
			return models.Stop{Stop: st, DistanceKm: transit.HaversineKm(near, st.Location())}
		}),
	})
}

// Signals handles GET /v1/signals - live signal count per feed.
func (h *CatalogHandler) Signals(w http.ResponseWriter, r *http.Request) {
	stats := h.signals.Stats()
	response.JSON(w, r, http.StatusOK, models.SignalSummary{
		Signals:    stats.Signals,
		Accepted:   stats.Accepted,
		Dropped:    stats.Dropped,
		Superseded: stats.Superseded,
		Pruned:     stats.Pruned,
		MaxAgeSec:  stats.MaxAge.Seconds(),
		AsOf:       models.Timestamp(h.clock()),
	})
}
