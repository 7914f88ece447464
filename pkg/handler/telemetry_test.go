package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prahari-ai/sentinel/pkg/alerts"
	"github.com/prahari-ai/sentinel/pkg/biometrics"
	"github.com/prahari-ai/sentinel/pkg/filter"
	"github.com/prahari-ai/sentinel/pkg/geofence"
	"github.com/prahari-ai/sentinel/pkg/identity"
	"github.com/prahari-ai/sentinel/pkg/messages"
	"github.com/prahari-ai/sentinel/pkg/pipeline"
	"github.com/prahari-ai/sentinel/pkg/ratelimit"
	"github.com/prahari-ai/sentinel/pkg/risk"
)

var testNoon = float64(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC).Unix())

func telemetryFixture(t *testing.T) *TelemetryHandler {
	t.Helper()

	guard := identity.NewGuard(zerolog.Nop())
	identity.SeedRegistry(guard)

	pipe := pipeline.New(pipeline.Config{
		Limiter:  ratelimit.New(100, 100),
		Guard:    guard,
		Smoother: filter.NewSmoother(),
		Geofence: geofence.NewEngine(zerolog.Nop(), func() float64 { return testNoon }),
		Risk:     risk.NewEngine(risk.StaticWeather("Clear Sky"), time.UTC),
		Humanity: biometrics.NewAnalyzer(),
		Alerts:   alerts.NewManager(zerolog.Nop()),
		Logger:   zerolog.Nop(),
	})
	return NewTelemetryHandler(pipe, zerolog.Nop())
}

func ingest(h *TelemetryHandler, report messages.TelemetryReport, secret string, nonce uint64) *httptest.ResponseRecorder {
	body, _ := json.Marshal(report)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	req.RemoteAddr = "10.0.0.1:5000"
	req.Header.Set(HeaderFingerprint, "hw:safe:01")
	req.Header.Set(HeaderCertRef, "CERT_ALPINIST_SAFE")
	req.Header.Set(HeaderNonce, strconv.FormatUint(nonce, 10))
	if secret != "" {
		payload := messages.CanonicalPayload(report.DeviceID, report.Timestamp, report.Location)
		req.Header.Set(HeaderSignature, messages.Sign(payload, []byte(secret)))
	}

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func sampleReport() messages.TelemetryReport {
	return messages.TelemetryReport{
		DeviceID:     "ALPINIST_SAFE",
		DID:          "did:eth:0xSAFE...001",
		Timestamp:    testNoon,
		Location:     messages.GeoPoint{Lat: 27.4, Lng: 91.7},
		Speed:        1.5,
		BatteryLevel: 85,
	}
}

func TestIngestHappyPath(t *testing.T) {
	h := telemetryFixture(t)

	rec := ingest(h, sampleReport(), "sk_safe", 1)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ALPINIST_SAFE", resp.DeviceID)
	assert.Equal(t, messages.StatusSafe, resp.Risk.Status)
	assert.Equal(t, 100.0, resp.HumanityScore)
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestIngestForgedSignatureUnauthorized(t *testing.T) {
	h := telemetryFixture(t)

	rec := ingest(h, sampleReport(), "wrong_key", 1)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "signature invalid")
}

func TestIngestValidation(t *testing.T) {
	h := telemetryFixture(t)

	missing := sampleReport()
	missing.DeviceID = ""
	assert.Equal(t, http.StatusBadRequest, ingest(h, missing, "sk_safe", 1).Code)

	stale := sampleReport()
	stale.Timestamp = 0
	assert.Equal(t, http.StatusBadRequest, ingest(h, stale, "sk_safe", 1).Code)

	offGlobe := sampleReport()
	offGlobe.Location.Lat = 91.0
	assert.Equal(t, http.StatusUnprocessableEntity, ingest(h, offGlobe, "sk_safe", 1).Code)
}

func TestIngestMalformedBody(t *testing.T) {
	h := telemetryFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestBadNonceHeader(t *testing.T) {
	h := telemetryFixture(t)

	body, _ := json.Marshal(sampleReport())
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	req.Header.Set(HeaderNonce, "not-a-number")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestReplayUnauthorized(t *testing.T) {
	h := telemetryFixture(t)

	require.Equal(t, http.StatusOK, ingest(h, sampleReport(), "sk_safe", 7).Code)
	rec := ingest(h, sampleReport(), "sk_safe", 7)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "replay")
}

func TestIngestRateLimited(t *testing.T) {
	guard := identity.NewGuard(zerolog.Nop())
	identity.SeedRegistry(guard)
	pipe := pipeline.New(pipeline.Config{
		Limiter:  ratelimit.New(0.0001, 1),
		Guard:    guard,
		Smoother: filter.NewSmoother(),
		Geofence: geofence.NewEngine(zerolog.Nop(), func() float64 { return testNoon }),
		Risk:     risk.NewEngine(nil, time.UTC),
		Humanity: biometrics.NewAnalyzer(),
		Alerts:   alerts.NewManager(zerolog.Nop()),
		Logger:   zerolog.Nop(),
	})
	h := NewTelemetryHandler(pipe, zerolog.Nop())

	require.Equal(t, http.StatusOK, ingest(h, sampleReport(), "sk_safe", 1).Code)

	second := sampleReport()
	second.Timestamp++
	rec := ingest(h, second, "sk_safe", 2)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")
}
