package messages

import (
	"time"

	"github.com/google/uuid"
)

// AlertType enumerates the kinds of operational alerts
type AlertType string

const (
	AlertGeofenceBreach AlertType = "GEOFENCE_BREACH"
	AlertInactivity     AlertType = "INACTIVITY"
	AlertSignalLost     AlertType = "SIGNAL_LOST"
	AlertFallDetected   AlertType = "FALL_DETECTED"
	AlertSOSManual      AlertType = "SOS_MANUAL"
	AlertUnconscious    AlertType = "UNCONSCIOUS"
)

// Severity levels, highest first
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

// Alert lifecycle states
const (
	AlertDetected     = "DETECTED"
	AlertAcknowledged = "ACKNOWLEDGED"
	AlertEscalated    = "ESCALATED"
	AlertResolved     = "RESOLVED"
)

// Attestation states
const (
	AttestationUnverified = "UNVERIFIED"
	AttestationAttested   = "ATTESTED"
)

// Handoff records a transfer of incident ownership
type Handoff struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Timestamp float64 `json:"timestamp"`
	Reason    string  `json:"reason"`
}

// Alert is one operational alert. Active alerts are keyed by
// (device_id, type); a re-detection of the same key updates the existing
// record instead of creating a duplicate.
type Alert struct {
	AlertID  string    `json:"alert_id"`
	DeviceID string    `json:"device_id"`
	DID      string    `json:"did"`
	Type     AlertType `json:"type"`
	Severity string    `json:"severity"`
	Location GeoPoint  `json:"location"`
	Message  string    `json:"message"`

	FirstSeen float64 `json:"first_seen"`
	LastSeen  float64 `json:"last_seen"`

	Status       string  `json:"status"`
	AckBy        string  `json:"ack_by,omitempty"`
	AckTime      float64 `json:"ack_time,omitempty"`
	ResolvedBy   string  `json:"resolved_by,omitempty"`
	ResolvedTime float64 `json:"resolved_time,omitempty"`

	OwnerID    string    `json:"owner_id,omitempty"`
	HandoffLog []Handoff `json:"handoff_log,omitempty"`

	Confidence      float64 `json:"confidence"`
	SuggestedAction string  `json:"suggested_action"`

	Attestation    string   `json:"attestation"`
	AttestingNodes []string `json:"attesting_nodes,omitempty"`
}

// NewAlert creates a freshly detected alert with a generated id.
func NewAlert(deviceID, did string, typ AlertType, severity, message string, loc GeoPoint) *Alert {
	now := float64(time.Now().UnixNano()) / 1e9
	return &Alert{
		AlertID:         uuid.New().String(),
		DeviceID:        deviceID,
		DID:             did,
		Type:            typ,
		Severity:        severity,
		Location:        loc,
		Message:         message,
		FirstSeen:       now,
		LastSeen:        now,
		Status:          AlertDetected,
		Confidence:      100.0,
		SuggestedAction: "Check dashboard",
		Attestation:     AttestationUnverified,
	}
}

// Key returns the active-index dedup key for this alert.
func (a *Alert) Key() string {
	return a.DeviceID + ":" + string(a.Type)
}

// Subject returns the NATS subject for this alert.
func (a *Alert) Subject() string {
	return "alert." + string(a.Type) + "." + a.DeviceID
}

// Active reports whether the alert still occupies the active index.
func (a *Alert) Active() bool {
	return a.Status != AlertResolved
}
