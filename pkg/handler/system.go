package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prahari-ai/sentinel/pkg/alerts"
	"github.com/prahari-ai/sentinel/pkg/cyber"
	"github.com/prahari-ai/sentinel/pkg/policy"
)

// SystemHandler exposes the operating mode and the cyber defense HUD
type SystemHandler struct {
	governor *cyber.Governor
	manager  *alerts.Manager
	checker  *policy.Checker
	logger   zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(governor *cyber.Governor, manager *alerts.Manager, checker *policy.Checker, logger zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		governor: governor,
		manager:  manager,
		checker:  checker,
		logger:   logger.With().Str("handler", "system").Logger(),
	}
}

// Routes returns the system routes
func (h *SystemHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/mode", h.GetMode)
	r.Post("/mode", h.SetMode)

	return r
}

// ModeResponse represents the current operating mode
type ModeResponse struct {
	Mode          string `json:"mode"`
	CorrelationID string `json:"correlation_id"`
}

// GetMode handles GET /api/v1/system/mode
func (h *SystemHandler) GetMode(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())
	WriteJSON(w, http.StatusOK, ModeResponse{
		Mode:          string(h.governor.Mode()),
		CorrelationID: correlationID,
	})
}

// SetModeRequest is the body for an administrative mode change.
type SetModeRequest struct {
	Mode          string `json:"mode"`
	Justification string `json:"justification"`
}

// SetMode handles POST /api/v1/system/mode. This is the only way out of
// CYBER_LOCKDOWN.
func (h *SystemHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	actor := ActorID(r)
	if actor == "" {
		WriteError(w, http.StatusBadRequest, "X-Actor-ID is required", correlationID)
		return
	}
	role := r.Header.Get(HeaderRole)
	if !h.checker.Allowed(ctx, role, policy.ActionSetMode) {
		WriteError(w, http.StatusForbidden, "Role "+role+" may not change the system mode", correlationID)
		return
	}

	var req SetModeRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body", correlationID)
		return
	}

	mode := cyber.SystemMode(req.Mode)
	switch mode {
	case cyber.ModeNormal, cyber.ModeDegraded, cyber.ModeEmergency, cyber.ModeCyberLockdown:
	default:
		WriteError(w, http.StatusUnprocessableEntity, "Unknown system mode", correlationID)
		return
	}

	h.governor.SetMode(ctx, mode, actor, req.Justification)
	WriteJSON(w, http.StatusOK, ModeResponse{
		Mode:          string(mode),
		CorrelationID: correlationID,
	})
}

// HUDResponse summarizes the cyber defense posture for the dashboard
type HUDResponse struct {
	Mode          string         `json:"mode"`
	ThreatLevel   string         `json:"threat_level"`
	Failures      map[string]int `json:"failures"`
	Blacklist     []string       `json:"blacklist"`
	ActiveAlerts  int            `json:"active_alerts"`
	CorrelationID string         `json:"correlation_id"`
}

// CyberHUD handles GET /api/v1/cyber/hud
func (h *SystemHandler) CyberHUD(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	WriteJSON(w, http.StatusOK, HUDResponse{
		Mode:          string(h.governor.Mode()),
		ThreatLevel:   h.governor.ThreatLevel(),
		Failures:      h.governor.Failures(),
		Blacklist:     h.governor.Blacklist(),
		ActiveAlerts:  h.manager.ActiveCount(),
		CorrelationID: correlationID,
	})
}
