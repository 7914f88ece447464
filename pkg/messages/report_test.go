package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalPayloadFormat(t *testing.T) {
	got := CanonicalPayload("ALPINIST_SAFE", 1700000000.5, GeoPoint{Lat: 27.5861, Lng: 91.8594})
	assert.Equal(t, "ALPINIST_SAFE|1700000000.5|27.5861|91.8594", got)

	// Integral values print without a trailing fraction.
	got = CanonicalPayload("DEV", 1700000000, GeoPoint{Lat: 27, Lng: -91.5})
	assert.Equal(t, "DEV|1700000000|27|-91.5", got)
}

func TestSignAndVerify(t *testing.T) {
	payload := CanonicalPayload("DEV", 100, GeoPoint{Lat: 1, Lng: 2})
	sig := Sign(payload, []byte("sk_test"))

	assert.True(t, VerifySignature(payload, sig, []byte("sk_test")))
	assert.False(t, VerifySignature(payload, sig, []byte("sk_other")))
	assert.False(t, VerifySignature(payload+"x", sig, []byte("sk_test")))
}

func TestSubjects(t *testing.T) {
	e := EnrichedReport{Report: TelemetryReport{DeviceID: "DEV_1"}}
	assert.Equal(t, "telemetry.update.DEV_1", e.Subject())

	a := NewAlert("DEV_1", "did:1", AlertGeofenceBreach, SeverityHigh, "msg", GeoPoint{})
	assert.Equal(t, "alert.GEOFENCE_BREACH.DEV_1", a.Subject())
	assert.Equal(t, "DEV_1:GEOFENCE_BREACH", a.Key())
	assert.True(t, a.Active())

	a.Status = AlertResolved
	assert.False(t, a.Active())
}
