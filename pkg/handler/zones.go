package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prahari-ai/sentinel/pkg/geofence"
	"github.com/prahari-ai/sentinel/pkg/messages"
	"github.com/prahari-ai/sentinel/pkg/policy"
)

// ZoneStore persists governed zone changes and serves audit trails.
// Best-effort: the live cache is authoritative for resolution.
type ZoneStore interface {
	SaveZone(ctx context.Context, z geofence.Zone) error
	ZoneAuditTrail(ctx context.Context, zoneID string) ([]geofence.AuditRecord, error)
}

// ZoneHandler handles zone governance requests
type ZoneHandler struct {
	engine  *geofence.Engine
	checker *policy.Checker
	store   ZoneStore
	sink    geofence.AuditSink
	logger  zerolog.Logger
}

// NewZoneHandler creates a new ZoneHandler. Store and sink may be nil in
// degraded deployments.
func NewZoneHandler(engine *geofence.Engine, checker *policy.Checker, store ZoneStore, sink geofence.AuditSink, logger zerolog.Logger) *ZoneHandler {
	return &ZoneHandler{
		engine:  engine,
		checker: checker,
		store:   store,
		sink:    sink,
		logger:  logger.With().Str("handler", "zones").Logger(),
	}
}

// Routes returns the zone routes
func (h *ZoneHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListZones)
	r.Post("/", h.CreateZone)
	r.Delete("/{zoneId}", h.ExpireZone)
	r.Get("/{zoneId}/audit", h.GetAuditTrail)

	return r
}

// ZoneListResponse represents the response for listing zones
type ZoneListResponse struct {
	Zones         []geofence.Zone `json:"zones"`
	Total         int             `json:"total"`
	CorrelationID string          `json:"correlation_id"`
}

// ListZones handles GET /api/v1/zones
func (h *ZoneHandler) ListZones(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	zones := h.engine.Zones()
	WriteJSON(w, http.StatusOK, ZoneListResponse{
		Zones:         zones,
		Total:         len(zones),
		CorrelationID: correlationID,
	})
}

// CreateZoneRequest is the body for creating a zone.
type CreateZoneRequest struct {
	Name          string               `json:"name"`
	RiskLevel     string               `json:"risk_level"`
	Center        messages.GeoPoint    `json:"center"`
	RadiusMeters  float64              `json:"radius_meters"`
	Vertices      []messages.GeoPoint  `json:"vertices,omitempty"`
	Description   string               `json:"description,omitempty"`
	Reason        string               `json:"reason"`
	Priority      int                  `json:"priority"`
	Authority     string               `json:"authority"`
	EffectiveFrom float64              `json:"effective_from,omitempty"`
	EffectiveTo   float64              `json:"effective_to,omitempty"`
}

// CreateZone handles POST /api/v1/zones
func (h *ZoneHandler) CreateZone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	actor := ActorID(r)
	if actor == "" {
		WriteError(w, http.StatusBadRequest, "X-Actor-ID is required", correlationID)
		return
	}
	role := r.Header.Get(HeaderRole)
	if !h.checker.Allowed(ctx, role, policy.ActionZoneCreate) {
		WriteError(w, http.StatusForbidden, "Role "+role+" may not create zones", correlationID)
		return
	}

	var req CreateZoneRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body", correlationID)
		return
	}
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, "name is required", correlationID)
		return
	}
	switch req.RiskLevel {
	case geofence.RiskHigh, geofence.RiskMedium, geofence.RiskLow:
	default:
		WriteError(w, http.StatusUnprocessableEntity, "risk_level must be HIGH, MEDIUM or LOW", correlationID)
		return
	}
	if len(req.Vertices) > 0 && len(req.Vertices) < 3 {
		WriteError(w, http.StatusUnprocessableEntity, "polygon zones need at least 3 vertices", correlationID)
		return
	}
	if len(req.Vertices) == 0 && req.RadiusMeters <= 0 {
		WriteError(w, http.StatusUnprocessableEntity, "circular zones need a positive radius_meters", correlationID)
		return
	}

	zone := h.engine.Create(ctx, geofence.Zone{
		Name:          req.Name,
		RiskLevel:     req.RiskLevel,
		Center:        req.Center,
		RadiusMeters:  req.RadiusMeters,
		Vertices:      req.Vertices,
		Description:   req.Description,
		Reason:        req.Reason,
		Priority:      req.Priority,
		Authority:     req.Authority,
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
	}, actor, h.sink)

	if h.store != nil {
		if err := h.store.SaveZone(ctx, zone); err != nil {
			h.logger.Warn().Err(err).Str("zone_id", zone.ZoneID).Msg("Zone persist failed")
		}
	}

	WriteJSON(w, http.StatusCreated, zone)
}

// ExpireZoneRequest carries the expiry justification.
type ExpireZoneRequest struct {
	Reason string `json:"reason"`
}

// ExpireZone handles DELETE /api/v1/zones/{zoneId}
func (h *ZoneHandler) ExpireZone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	zoneID := chi.URLParam(r, "zoneId")

	actor := ActorID(r)
	if actor == "" {
		WriteError(w, http.StatusBadRequest, "X-Actor-ID is required", correlationID)
		return
	}
	role := r.Header.Get(HeaderRole)
	if !h.checker.Allowed(ctx, role, policy.ActionZoneExpire) {
		WriteError(w, http.StatusForbidden, "Role "+role+" may not expire zones", correlationID)
		return
	}

	var req ExpireZoneRequest
	DecodeJSON(r, &req)

	zone, err := h.engine.Expire(ctx, zoneID, actor, req.Reason, h.sink)
	if err != nil {
		if errors.Is(err, geofence.ErrZoneNotFound) {
			WriteError(w, http.StatusNotFound, "Zone not found", correlationID)
			return
		}
		h.logger.Error().Err(err).Str("zone_id", zoneID).Msg("Zone expire failed")
		WriteError(w, http.StatusInternalServerError, "Failed to expire zone", correlationID)
		return
	}

	if h.store != nil {
		if err := h.store.SaveZone(ctx, zone); err != nil {
			h.logger.Warn().Err(err).Str("zone_id", zone.ZoneID).Msg("Zone persist failed")
		}
	}

	WriteJSON(w, http.StatusOK, zone)
}

// AuditTrailResponse represents the hash-chained history of one zone
type AuditTrailResponse struct {
	ZoneID        string                  `json:"zone_id"`
	Records       []geofence.AuditRecord  `json:"records"`
	CorrelationID string                  `json:"correlation_id"`
}

// GetAuditTrail handles GET /api/v1/zones/{zoneId}/audit
func (h *ZoneHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	zoneID := chi.URLParam(r, "zoneId")

	if h.store == nil {
		WriteError(w, http.StatusServiceUnavailable, "Audit store unavailable", correlationID)
		return
	}

	records, err := h.store.ZoneAuditTrail(ctx, zoneID)
	if err != nil {
		h.logger.Error().Err(err).Str("zone_id", zoneID).Msg("Audit trail query failed")
		WriteError(w, http.StatusInternalServerError, "Failed to load audit trail", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, AuditTrailResponse{
		ZoneID:        zoneID,
		Records:       records,
		CorrelationID: correlationID,
	})
}
