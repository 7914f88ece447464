// Package messages defines the wire types shared across the sentinel pipeline
package messages

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// GeoPoint represents a geographic position
type GeoPoint struct {
	Lat float64 `json:"lat"` // Latitude in degrees
	Lng float64 `json:"lng"` // Longitude in degrees
}

// TelemetryReport is a single position report from a field device.
//
// The location field is overwritten with the smoothed estimate before
// downstream use; RawLocation keeps the original fix for diagnostics only.
type TelemetryReport struct {
	DeviceID     string   `json:"device_id"`
	DID          string   `json:"did"` // Decentralized identity of the carrier
	Timestamp    float64  `json:"timestamp"`
	Location     GeoPoint `json:"location"`
	Speed        float64  `json:"speed"`
	Heading      float64  `json:"heading"`
	BatteryLevel float64  `json:"battery_level"`
	IsPanic      bool     `json:"is_panic"`

	// HumanityScore is the GPS-biometrics confidence that the carrier is a
	// human, 0-100. Defaults to 100 for devices with too little history.
	HumanityScore float64 `json:"humanity_score"`

	RawLocation *GeoPoint `json:"raw_location,omitempty"`
}

// RiskResult is the output of a risk evaluation for one report.
type RiskResult struct {
	Score   int      `json:"score"`  // 0-100
	Status  string   `json:"status"` // SAFE, WARNING, CRITICAL
	Factors []string `json:"factors"`
}

// Risk status thresholds
const (
	StatusSafe     = "SAFE"
	StatusWarning  = "WARNING"
	StatusCritical = "CRITICAL"
)

// EnrichedReport is the broadcast payload for one pipeline pass. It carries
// the smoothed location and the risk computed in the same pass so observers
// never see the two out of sync.
type EnrichedReport struct {
	Report   TelemetryReport `json:"report"`
	Risk     RiskResult      `json:"risk"`
	ZoneID   string          `json:"zone_id,omitempty"`
	ZoneName string          `json:"zone_name,omitempty"`

	// PermitStatus is filled on the async broadcast path from the permit
	// registry and may be stale or UNKNOWN.
	PermitStatus string `json:"permit_status,omitempty"`
}

// Subject returns the NATS subject for the enriched report.
func (e *EnrichedReport) Subject() string {
	return "telemetry.update." + e.Report.DeviceID
}

// CanonicalPayload builds the deterministic string a device signs. The
// coordinates are the ones presented at signing time, before smoothing.
func CanonicalPayload(deviceID string, timestamp float64, loc GeoPoint) string {
	return fmt.Sprintf("%s|%s|%s|%s",
		deviceID,
		strconv.FormatFloat(timestamp, 'f', -1, 64),
		strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		strconv.FormatFloat(loc.Lng, 'f', -1, 64),
	)
}

// Sign computes the hex HMAC-SHA256 signature of a canonical payload.
func Sign(payload string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 signature in constant time.
func VerifySignature(payload, signature string, secret []byte) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
