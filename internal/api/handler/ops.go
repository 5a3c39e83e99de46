package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/wayforge/wayforge/internal/api/models"
	"github.com/wayforge/wayforge/internal/api/response"
	"github.com/wayforge/wayforge/internal/history"
	"github.com/wayforge/wayforge/internal/provider/resilience"
	"github.com/wayforge/wayforge/internal/static"
	"github.com/wayforge/wayforge/internal/transit"
)

// StopCache reports on the static stop data.
type StopCache interface {
	Stops(ctx context.Context) ([]transit.Stop, error)
	CacheStatus() static.CacheStatus
}

// RecorderStats reports on background history writes.
type RecorderStats interface {
	Stats() history.RecorderStats
}

// OpsConfig holds the dependencies inspected by the ops endpoints. Nil
// fields are left out of the report.
type OpsConfig struct {
	Version   string
	BuildTime string
	Stops     StopCache
	Signals   SignalStats
	Registry  *resilience.Registry
	Recorder  RecorderStats
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg   OpsConfig
	clock func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg, clock: time.Now}
}

// HealthCheck handles GET /healthz - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.clock()),
		Details: map[string]any{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// ReadinessCheck handles GET /readyz - ready once stop data can be served.
// Live feeds are not required: without them the optimizer uses schedules.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{Status: models.HealthStatusOK, Time: models.Timestamp(h.clock())}
	if h.cfg.Stops != nil {
		stops, err := h.cfg.Stops.Stops(r.Context())
		if err != nil || len(stops) == 0 {
			health.Status = models.HealthStatusFail
			health.Details = map[string]any{"stops": "unavailable"}
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
		health.Details = map[string]any{"stops": len(stops)}
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /status - subsystem and provider status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Time:       models.Timestamp(h.clock()),
		Subsystems: h.subsystems(),
		Providers:  []models.ProviderStatus{},
	}
	if h.cfg.Registry != nil {
		status.Providers = lo.Map(h.cfg.Registry.GetAllHealth(), func(p *resilience.ProviderHealth, _ int) models.ProviderStatus {
			return providerStatus(p)
		})
	}

	statuses := lo.Map(status.Subsystems, func(s models.SubsystemStatus, _ int) models.HealthStatus { return s.Status })
	for _, p := range status.Providers {
		// An unhealthy upstream only degrades the service.
		statuses = append(statuses, lo.Ternary(p.Status == models.HealthStatusOK, models.HealthStatusOK, models.HealthStatusDegraded))
	}
	status.Status = worst(statuses)

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) subsystems() []models.SubsystemStatus {
	var out []models.SubsystemStatus

	if h.cfg.Stops != nil {
		cache := h.cfg.Stops.CacheStatus()
		s := models.SubsystemStatus{Name: "stops", Status: models.HealthStatusOK, Detail: fmt.Sprintf("%d stops", cache.Stops)}
		switch {
		case cache.Stops == 0:
			s.Status, s.Detail = models.HealthStatusFail, "no stops loaded"
		case !cache.Fresh:
			s.Status = models.HealthStatusDegraded
			s.Detail += ", cache expired"
		}
		out = append(out, s)
	}

	if h.cfg.Signals != nil {
		stats := h.cfg.Signals.Stats()
		total := lo.Sum(lo.Values(stats.Signals))
		s := models.SubsystemStatus{Name: "live-signals", Status: models.HealthStatusOK, Detail: fmt.Sprintf("%d signals", total)}
		if total == 0 {
			s.Status, s.Detail = models.HealthStatusDegraded, "no live signals, ranking on schedules"
		}
		out = append(out, s)
	}

	if h.cfg.Recorder != nil {
		stats := h.cfg.Recorder.Stats()
		s := models.SubsystemStatus{Name: "history", Status: models.HealthStatusOK, Detail: fmt.Sprintf("%d saved", stats.Saved)}
		if stats.Dropped > 0 || stats.Failed > 0 {
			s.Status = models.HealthStatusDegraded
			s.Detail = fmt.Sprintf("%d saved, %d dropped, %d failed", stats.Saved, stats.Dropped, stats.Failed)
		}
		out = append(out, s)
	}

	return out
}

func providerStatus(p *resilience.ProviderHealth) models.ProviderStatus {
	s := models.ProviderStatus{
		Provider: p.Name,
		Status:   models.HealthStatusOK,
		Circuit:  p.State,
		Message:  p.LastError,
	}
	switch {
	case p.IsUnhealthy():
		s.Status = models.HealthStatusFail
	case p.IsDegraded():
		s.Status = models.HealthStatusDegraded
	}
	if p.LastSuccessAt != nil {
		s.LastSuccessAt = models.TimestampPtr(*p.LastSuccessAt)
	}
	if p.LastFailureAt != nil {
		s.LastFailureAt = models.TimestampPtr(*p.LastFailureAt)
	}
	return s
}

func worst(statuses []models.HealthStatus) models.HealthStatus {
	out := models.HealthStatusOK
	for _, s := range statuses {
		switch s {
		case models.HealthStatusFail:
			return models.HealthStatusFail
		case models.HealthStatusDegraded:
			out = models.HealthStatusDegraded
		}
	}
	return out
}
