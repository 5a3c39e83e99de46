// Package handler provides HTTP handlers for the WayForge API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wayforge/wayforge/internal/api/middleware"
	"github.com/wayforge/wayforge/internal/api/models"
	"github.com/wayforge/wayforge/internal/api/response"
	"github.com/wayforge/wayforge/internal/geocode"
	"github.com/wayforge/wayforge/internal/history"
	"github.com/wayforge/wayforge/internal/optimizer"
	"github.com/wayforge/wayforge/internal/scoring"
	"github.com/wayforge/wayforge/internal/transit"
)

// maxRequestBytes bounds an optimization request body.
const maxRequestBytes = 64 << 10

// Optimizer ranks the modes for a trip.
type Optimizer interface {
	Optimize(ctx context.Context, req optimizer.Request) (*optimizer.Result, error)
}

// Resolver geocodes free text.
type Resolver interface {
	Resolve(ctx context.Context, text string) (geocode.Place, error)
}

// ResultStore looks up recorded results.
type ResultStore interface {
	Get(ctx context.Context, id uuid.UUID) (*optimizer.Result, error)
}

// OptimizeHandler handles optimization endpoints.
type OptimizeHandler struct {
	optimizer Optimizer
	resolver  Resolver
	results   ResultStore
}

// NewOptimizeHandler creates a new OptimizeHandler. resolver and results
// may be nil; the features they back then answer with errors.
func NewOptimizeHandler(opt Optimizer, resolver Resolver, results ResultStore) *OptimizeHandler {
	return &OptimizeHandler{optimizer: opt, resolver: resolver, results: results}
}

// Optimize handles POST /v1/routes:optimize - rank the modes for a trip.
func (h *OptimizeHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var input models.OptimizeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	traceID := middleware.GetRequestID(r.Context())

	strategy, err := scoring.ParseStrategy(input.Strategy)
	if err != nil {
		response.Error(w, r, models.NewUnknownStrategy(traceID, err.Error()))
		return
	}

	modes, fieldErrs := parseModes(input.Modes)
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "unknown transport mode", fieldErrs)
		return
	}

	source, ok := h.endpoint(w, r, "origin", input.Origin, input.OriginQuery)
	if !ok {
		return
	}
	destination, ok := h.endpoint(w, r, "destination", input.Destination, input.DestinationQuery)
	if !ok {
		return
	}

	result, err := h.optimizer.Optimize(r.Context(), optimizer.Request{
		Source:      source,
		Destination: destination,
		Strategy:    strategy,
		Modes:       modes,
	})
	switch {
	case err == nil:
	case errors.Is(err, transit.ErrInvalidLocation):
		response.Error(w, r, models.NewInvalidLocation(traceID, err.Error(), nil))
		return
	case errors.Is(err, scoring.ErrUnknownStrategy):
		response.Error(w, r, models.NewUnknownStrategy(traceID, err.Error()))
		return
	case errors.Is(err, transit.ErrUnknownMode):
		response.BadRequest(w, r, err.Error(), nil)
		return
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads the body.
		return
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("optimization failed")
		response.InternalError(w, r)
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewOptimizeResponse(result))
}

// GetOptimization handles GET /v1/optimizations/{id} - fetch a recorded result.
func (h *OptimizeHandler) GetOptimization(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, r, "id must be a UUID", []models.FieldError{
			{Field: "id", Message: "must be a UUID", Code: "INVALID_FORMAT"},
		})
		return
	}
	if h.results == nil {
		response.NotFound(w, r, "optimization history is disabled")
		return
	}

	result, err := h.results.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			response.NotFound(w, r, fmt.Sprintf("optimization %s not found", id))
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("optimization_id", id.String()).Msg("failed to load optimization")
		response.InternalError(w, r)
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewOptimizeResponse(result))
}

// endpoint returns the trip end given as a point, or geocodes the query.
// It writes the error response and returns false on failure.
func (h *OptimizeHandler) endpoint(w http.ResponseWriter, r *http.Request, field string, point *models.Point, query string) (transit.Location, bool) {
	traceID := middleware.GetRequestID(r.Context())
	if point != nil {
		return point.Location(), true
	}
	if query == "" {
		response.Error(w, r, models.NewInvalidLocation(traceID, field+" is required", []models.FieldError{
			{Field: field, Message: "a point or a query is required", Code: "REQUIRED"},
		}))
		return transit.Location{}, false
	}
	if h.resolver == nil {
		response.ServiceUnavailable(w, r, "geocoding is not configured")
		return transit.Location{}, false
	}

	place, err := h.resolver.Resolve(r.Context(), query)
	switch {
	case err == nil:
		loc := place.Location
		if loc.Name == "" {
			loc.Name = place.DisplayName
		}
		return loc, true
	case errors.Is(err, geocode.ErrNoResult), errors.Is(err, geocode.ErrEmptyQuery):
		response.Error(w, r, models.NewInvalidLocation(traceID, fmt.Sprintf("no place matches %q", query), []models.FieldError{
			{Field: field + "Query", Message: "no matching place", Code: "NOT_FOUND"},
		}))
	case errors.Is(err, transit.ErrInvalidLocation):
		response.Error(w, r, models.NewInvalidLocation(traceID, err.Error(), nil))
	default:
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("field", field).Msg("geocoding failed")
		response.ServiceUnavailable(w, r, "geocoding is unavailable, send coordinates instead")
	}
	return transit.Location{}, false
}

func parseModes(names []string) ([]transit.Mode, []models.FieldError) {
	var modes []transit.Mode
	var errs []models.FieldError
	for i, name := range names {
		m, err := transit.ParseMode(name)
		if err != nil {
			errs = append(errs, models.FieldError{
				Field:   fmt.Sprintf("modes[%d]", i),
				Message: err.Error(),
				Code:    "UNKNOWN_MODE",
			})
			continue
		}
		modes = append(modes, m)
	}
	return modes, errs
}
