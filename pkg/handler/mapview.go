package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prahari-ai/sentinel/pkg/messages"
	"github.com/prahari-ai/sentinel/pkg/pipeline"
	"github.com/prahari-ai/sentinel/pkg/postgres"
)

// HistoryStore serves persisted telemetry samples.
type HistoryStore interface {
	QueryHistory(ctx context.Context, deviceID string, since float64, limit int) ([]postgres.HistoryRow, error)
}

// MapHandler serves the live tactical picture and device history
type MapHandler struct {
	positions *pipeline.PositionTable
	history   HistoryStore
	logger    zerolog.Logger
}

// NewMapHandler creates a new MapHandler. History may be nil in degraded
// deployments.
func NewMapHandler(positions *pipeline.PositionTable, history HistoryStore, logger zerolog.Logger) *MapHandler {
	return &MapHandler{
		positions: positions,
		history:   history,
		logger:    logger.With().Str("handler", "map").Logger(),
	}
}

// Routes returns the map routes
func (h *MapHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/positions", h.ListPositions)
	r.Get("/positions/{deviceId}", h.GetPosition)

	return r
}

// PositionListResponse represents the live last-known picture
type PositionListResponse struct {
	Positions     []messages.EnrichedReport `json:"positions"`
	Total         int                       `json:"total"`
	CorrelationID string                    `json:"correlation_id"`
}

// ListPositions handles GET /api/v1/map/positions
func (h *MapHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

	enriched := h.positions.Enriched()
	WriteJSON(w, http.StatusOK, PositionListResponse{
		Positions:     enriched,
		Total:         len(enriched),
		CorrelationID: correlationID,
	})
}

// GetPosition handles GET /api/v1/map/positions/{deviceId}
func (h *MapHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())
	deviceID := chi.URLParam(r, "deviceId")

	e, ok := h.positions.Get(deviceID)
	if !ok {
		WriteError(w, http.StatusNotFound, "Device not seen", correlationID)
		return
	}
	WriteJSON(w, http.StatusOK, e)
}

// HistoryResponse represents a device's persisted trail
type HistoryResponse struct {
	DeviceID      string               `json:"device_id"`
	Samples       []postgres.HistoryRow `json:"samples"`
	Total         int                  `json:"total"`
	CorrelationID string               `json:"correlation_id"`
}

// GetHistory handles GET /api/v1/devices/{deviceId}/history
func (h *MapHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)
	deviceID := chi.URLParam(r, "deviceId")

	if h.history == nil {
		WriteError(w, http.StatusServiceUnavailable, "History store unavailable", correlationID)
		return
	}

	var since float64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "since must be epoch seconds", correlationID)
			return
		}
		since = parsed
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = l
		}
	}

	samples, err := h.history.QueryHistory(ctx, deviceID, since, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("device_id", deviceID).Msg("History query failed")
		WriteError(w, http.StatusInternalServerError, "Failed to load history", correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, HistoryResponse{
		DeviceID:      deviceID,
		Samples:       samples,
		Total:         len(samples),
		CorrelationID: correlationID,
	})
}
