package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayforge/wayforge/internal/api/models"
	"github.com/wayforge/wayforge/internal/candidate"
	"github.com/wayforge/wayforge/internal/fare"
	"github.com/wayforge/wayforge/internal/optimizer"
	"github.com/wayforge/wayforge/internal/scoring"
	"github.com/wayforge/wayforge/internal/transit"
)

func TestProblem_Write(t *testing.T) {
	rec := httptest.NewRecorder()
	models.NewInvalidLocation("req_1", "origin is outside the valid range", []models.FieldError{
		{Field: "origin.lat", Message: "must be between -90 and 90"},
	}).WithInstance("/v1/routes:optimize").Write(rec)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req_1", rec.Header().Get("X-Request-Id"))

	var p models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, models.ProblemTypeInvalidLocation, p.Type)
	assert.Equal(t, "/v1/routes:optimize", p.Instance)
	assert.Equal(t, "req_1", p.TraceID)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "origin.lat", p.Errors[0].Field)
}

func TestProblemConstructors(t *testing.T) {
	tests := []struct {
		problem *models.Problem
		status  int
		typ     string
	}{
		{models.NewBadRequest("r", "d", nil), http.StatusBadRequest, models.ProblemTypeValidation},
		{models.NewUnknownStrategy("r", "d"), http.StatusBadRequest, models.ProblemTypeUnknownStrategy},
		{models.NewNotFound("r", "d"), http.StatusNotFound, models.ProblemTypeNotFound},
		{models.NewTooManyRequests("r", "d"), http.StatusTooManyRequests, models.ProblemTypeTooManyRequests},
		{models.NewInternalError("r", "d"), http.StatusInternalServerError, models.ProblemTypeInternal},
		{models.NewServiceUnavailable("r", "d"), http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.problem.Status)
			assert.Equal(t, tt.typ, tt.problem.Type)
			assert.Equal(t, "d", tt.problem.Detail)
		})
	}
}

func TestTimestamp(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	data, err := json.Marshal(models.Timestamp(time.Date(2026, 3, 2, 14, 0, 0, 0, ist)))
	require.NoError(t, err)
	assert.JSONEq(t, `"2026-03-02T08:30:00Z"`, string(data))

	assert.Nil(t, models.TimestampPtr(time.Time{}))
	assert.NotNil(t, models.TimestampPtr(time.Now()))
}

func TestNewOptimizeResponse(t *testing.T) {
	res := &optimizer.Result{
		ID:          uuid.MustParse("6f1c2a8e-0000-4000-8000-000000000001"),
		Strategy:    scoring.StrategyBalanced,
		Source:      transit.Location{Lat: 12.9716, Lon: 77.5946, Name: "MG Road"},
		Destination: transit.Location{Lat: 12.9352, Lon: 77.6245},
		Options: []optimizer.Option{{
			Rank: 1,
			Scored: scoring.Scored{
				Candidate: candidate.Candidate{
					Mode:                    transit.MetroToken,
					DistanceKm:              7.78,
					NominalDurationMin:      13.3,
					FeedDelayMin:            2,
					CongestionAdjustmentMin: 0,
					AppliedDelayMin:         2,
					Fare:                    fare.Quote{Mode: transit.MetroToken, Amount: 20, Currency: "INR", Surge: 1},
					Freshness:               candidate.FreshnessLive,
				},
				Strategy:   scoring.StrategyBalanced,
				Components: scoring.Components{Time: 1, Cost: 0.9, Eco: 0.9, Comfort: 0.8},
				Composite:  0.7,
			},
		}},
		Excluded: []candidate.Exclusion{{
			Mode: transit.Walking, Reason: candidate.ReasonDistanceExceedsMode, Detail: "7.8 km exceeds 5 km",
		}},
		Diagnostics: []optimizer.Diagnostic{{Code: optimizer.DiagnosticNoLiveData, Message: "m"}},
	}

	out := models.NewOptimizeResponse(res)
	assert.Equal(t, "6f1c2a8e-0000-4000-8000-000000000001", out.ID)
	assert.Equal(t, "MG Road", out.Origin.Name)
	require.Len(t, out.Options, 1)

	opt := out.Options[0]
	assert.Equal(t, transit.CategoryMetro, opt.Category)
	assert.InDelta(t, 15.3, opt.Duration.EffectiveMin, 1e-9)
	assert.Equal(t, 20.0, opt.Fare.Amount)
	assert.Equal(t, "LIVE", opt.Freshness)

	require.Len(t, out.Excluded, 1)
	assert.Equal(t, "DistanceExceedsMode", out.Excluded[0].Reason)
	assert.Len(t, out.Diagnostics, 1)

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"mode":"metro_token"`)
}

func TestNewOptimizeResponse_Empty(t *testing.T) {
	out := models.NewOptimizeResponse(&optimizer.Result{Strategy: scoring.StrategyCheapest})

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"options":[]`)
	assert.Contains(t, string(data), `"excluded":[]`)
}
