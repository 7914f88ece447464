package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prahari-ai/sentinel/pkg/alerts"
	"github.com/prahari-ai/sentinel/pkg/messages"
	"github.com/prahari-ai/sentinel/pkg/policy"
)

// Actor headers asserted by dashboard and node callers.
const (
	HeaderRole    = "X-Role"
	HeaderActorID = "X-Actor-ID"
)

// ActionRecorder receives auditable operator actions, best-effort.
type ActionRecorder interface {
	RecordAction(ctx context.Context, actor, action, target, justification string)
}

// AlertHandler handles alert lifecycle requests
type AlertHandler struct {
	manager  *alerts.Manager
	checker  *policy.Checker
	archiver alerts.Archiver
	recorder ActionRecorder
	logger   zerolog.Logger
}

// NewAlertHandler creates a new AlertHandler. Archiver and recorder may be
// nil in degraded deployments.
func NewAlertHandler(manager *alerts.Manager, checker *policy.Checker, archiver alerts.Archiver, recorder ActionRecorder, logger zerolog.Logger) *AlertHandler {
	return &AlertHandler{
		manager:  manager,
		checker:  checker,
		archiver: archiver,
		recorder: recorder,
		logger:   logger.With().Str("handler", "alerts").Logger(),
	}
}

// Routes returns the alert routes
func (h *AlertHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListActive)
	r.Get("/{alertId}", h.GetAlert)
	r.Patch("/{alertId}/acknowledge", h.Acknowledge)
	r.Patch("/{alertId}/resolve", h.Resolve)
	r.Patch("/{alertId}/claim", h.Claim)
	r.Patch("/{alertId}/attest", h.Attest)

	return r
}

// AlertListResponse represents the response for listing active alerts
type AlertListResponse struct {
	Alerts        []messages.Alert `json:"alerts"`
	Total         int              `json:"total"`
	CorrelationID string           `json:"correlation_id"`
}

// ListActive handles GET /api/v1/alerts
func (h *AlertHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	active := h.manager.Active()
	WriteJSON(w, http.StatusOK, AlertListResponse{
		Alerts:        active,
		Total:         len(active),
		CorrelationID: correlationID,
	})
}

// GetAlert handles GET /api/v1/alerts/{alertId}
func (h *AlertHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())
	alertID := chi.URLParam(r, "alertId")

	alert, ok := h.manager.Get(alertID)
	if !ok {
		WriteError(w, http.StatusNotFound, "Alert not found", correlationID)
		return
	}
	WriteJSON(w, http.StatusOK, alert)
}

// authorize resolves the asserted actor and checks the policy. It writes the
// error response itself and reports whether the caller may proceed.
func (h *AlertHandler) authorize(w http.ResponseWriter, r *http.Request, action, correlationID string) (string, bool) {
	actor := ActorID(r)
	if actor == "" {
		WriteError(w, http.StatusBadRequest, "X-Actor-ID is required", correlationID)
		return "", false
	}

	role := r.Header.Get(HeaderRole)
	if !h.checker.Allowed(r.Context(), role, action) {
		h.logger.Warn().
			Str("actor", actor).
			Str("role", role).
			Str("action", action).
			Str("correlation_id", correlationID).
			Msg("Action denied by policy")
		WriteError(w, http.StatusForbidden, "Role "+role+" may not "+action, correlationID)
		return "", false
	}
	return actor, true
}

func (h *AlertHandler) writeLifecycleError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, alerts.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Alert not found", correlationID)
	case errors.Is(err, alerts.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, "Transition not allowed from current status", correlationID)
	default:
		WriteError(w, http.StatusInternalServerError, "Alert update failed", correlationID)
	}
}

// Acknowledge handles PATCH /api/v1/alerts/{alertId}/acknowledge
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())
	alertID := chi.URLParam(r, "alertId")

	actor, ok := h.authorize(w, r, policy.ActionAcknowledge, correlationID)
	if !ok {
		return
	}

	alert, err := h.manager.Acknowledge(alertID, actor)
	if err != nil {
		h.writeLifecycleError(w, err, correlationID)
		return
	}

	if h.recorder != nil {
		h.recorder.RecordAction(r.Context(), actor, "ACKNOWLEDGE", alertID, "")
	}
	WriteJSON(w, http.StatusOK, alert)
}

// ResolveRequest carries the optional resolution note.
type ResolveRequest struct {
	Reason string `json:"reason"`
}

// Resolve handles PATCH /api/v1/alerts/{alertId}/resolve
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())
	alertID := chi.URLParam(r, "alertId")

	actor, ok := h.authorize(w, r, policy.ActionResolve, correlationID)
	if !ok {
		return
	}

	var req ResolveRequest
	DecodeJSON(r, &req) // body is optional

	alert, err := h.manager.Resolve(alertID, actor, h.archiver)
	if err != nil {
		h.writeLifecycleError(w, err, correlationID)
		return
	}

	if h.recorder != nil {
		h.recorder.RecordAction(r.Context(), actor, "RESOLVE", alertID, req.Reason)
	}
	WriteJSON(w, http.StatusOK, alert)
}

// ClaimRequest carries the handoff justification.
type ClaimRequest struct {
	Reason string `json:"reason"`
}

// Claim handles PATCH /api/v1/alerts/{alertId}/claim
func (h *AlertHandler) Claim(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())
	alertID := chi.URLParam(r, "alertId")

	actor, ok := h.authorize(w, r, policy.ActionClaim, correlationID)
	if !ok {
		return
	}

	var req ClaimRequest
	DecodeJSON(r, &req)

	alert, err := h.manager.Claim(alertID, actor, req.Reason)
	if err != nil {
		h.writeLifecycleError(w, err, correlationID)
		return
	}

	if h.recorder != nil {
		h.recorder.RecordAction(r.Context(), actor, "CLAIM", alertID, req.Reason)
	}
	WriteJSON(w, http.StatusOK, alert)
}

// Attest handles PATCH /api/v1/alerts/{alertId}/attest
func (h *AlertHandler) Attest(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())
	alertID := chi.URLParam(r, "alertId")

	actor, ok := h.authorize(w, r, policy.ActionAttest, correlationID)
	if !ok {
		return
	}

	alert, err := h.manager.Attest(alertID, actor)
	if err != nil {
		h.writeLifecycleError(w, err, correlationID)
		return
	}

	if h.recorder != nil {
		h.recorder.RecordAction(r.Context(), actor, "ATTEST", alertID, "")
	}
	WriteJSON(w, http.StatusOK, alert)
}
