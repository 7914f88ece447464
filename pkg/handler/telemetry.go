// Package handler provides HTTP handlers for the sentinel API
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prahari-ai/sentinel/pkg/identity"
	"github.com/prahari-ai/sentinel/pkg/messages"
	"github.com/prahari-ai/sentinel/pkg/pipeline"
)

// Credential headers presented by field devices.
const (
	HeaderFingerprint = "X-Device-Fingerprint"
	HeaderCertRef     = "X-Cert-Thumbprint"
	HeaderSignature   = "X-Signature"
	HeaderNonce       = "X-Nonce"
)

// TelemetryHandler handles telemetry ingestion requests
type TelemetryHandler struct {
	pipe   *pipeline.Pipeline
	logger zerolog.Logger
}

// NewTelemetryHandler creates a new TelemetryHandler
func NewTelemetryHandler(pipe *pipeline.Pipeline, logger zerolog.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		pipe:   pipe,
		logger: logger.With().Str("handler", "telemetry").Logger(),
	}
}

// Routes returns the telemetry routes
func (h *TelemetryHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Ingest)

	return r
}

// IngestResponse is the synchronous answer to one report: the smoothed
// location and the risk computed for it in the same pass.
type IngestResponse struct {
	DeviceID      string              `json:"device_id"`
	Location      messages.GeoPoint   `json:"location"`
	Risk          messages.RiskResult `json:"risk"`
	ZoneID        string              `json:"zone_id,omitempty"`
	ZoneName      string              `json:"zone_name,omitempty"`
	HumanityScore float64             `json:"humanity_score"`
	CorrelationID string              `json:"correlation_id"`
}

// Ingest handles POST /api/v1/telemetry
func (h *TelemetryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	var report messages.TelemetryReport
	if err := DecodeJSON(r, &report); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body", correlationID)
		return
	}
	if report.DeviceID == "" {
		WriteError(w, http.StatusBadRequest, "device_id is required", correlationID)
		return
	}
	if report.Timestamp <= 0 {
		WriteError(w, http.StatusBadRequest, "timestamp must be positive epoch seconds", correlationID)
		return
	}
	if report.Location.Lat < -90 || report.Location.Lat > 90 ||
		report.Location.Lng < -180 || report.Location.Lng > 180 {
		WriteError(w, http.StatusUnprocessableEntity, "location out of range", correlationID)
		return
	}

	var nonce uint64
	if raw := r.Header.Get(HeaderNonce); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "X-Nonce must be an unsigned integer", correlationID)
			return
		}
		nonce = parsed
	}

	meta := pipeline.Meta{
		Source:      r.RemoteAddr,
		Fingerprint: r.Header.Get(HeaderFingerprint),
		CertRef:     r.Header.Get(HeaderCertRef),
		Signature:   r.Header.Get(HeaderSignature),
		Nonce:       nonce,
	}

	enriched, err := h.pipe.Process(ctx, &report, meta)
	if err != nil {
		h.writeProcessError(w, err, report.DeviceID, correlationID)
		return
	}

	WriteJSON(w, http.StatusOK, IngestResponse{
		DeviceID:      enriched.Report.DeviceID,
		Location:      enriched.Report.Location,
		Risk:          enriched.Risk,
		ZoneID:        enriched.ZoneID,
		ZoneName:      enriched.ZoneName,
		HumanityScore: enriched.Report.HumanityScore,
		CorrelationID: correlationID,
	})
}

func (h *TelemetryHandler) writeProcessError(w http.ResponseWriter, err error, deviceID, correlationID string) {
	switch {
	case errors.Is(err, pipeline.ErrRateLimited):
		WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded", correlationID)

	case errors.Is(err, identity.ErrUnknownDevice),
		errors.Is(err, identity.ErrDeviceRevoked),
		errors.Is(err, identity.ErrHardwareMismatch),
		errors.Is(err, identity.ErrCertMismatch),
		errors.Is(err, identity.ErrReplayDetected),
		errors.Is(err, identity.ErrSignatureInvalid):
		h.logger.Warn().Err(err).Str("device_id", deviceID).Str("correlation_id", correlationID).Msg("Report rejected")
		WriteError(w, http.StatusUnauthorized, err.Error(), correlationID)

	default:
		h.logger.Error().Err(err).Str("device_id", deviceID).Str("correlation_id", correlationID).Msg("Ingest failed")
		WriteError(w, http.StatusInternalServerError, "Failed to process report", correlationID)
	}
}
