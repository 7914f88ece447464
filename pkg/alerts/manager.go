// Package alerts tracks the lifecycle of operational alerts and suppresses
// notification fatigue: an already-open alert with unchanged severity is
// refreshed, never re-announced.
package alerts

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prahari-ai/sentinel/pkg/messages"
)

var (
	// ErrNotFound is returned when an alert id is not in the active index.
	ErrNotFound = errors.New("alert not found")
	// ErrInvalidTransition is returned for lifecycle moves the state
	// machine does not permit.
	ErrInvalidTransition = errors.New("invalid alert transition")
)

// Archiver receives alerts leaving the active index on resolution.
// Best-effort; failures never block the transition.
type Archiver interface {
	Archive(alert *messages.Alert)
}

// Manager owns the active-alert index, keyed by (device_id, type).
type Manager struct {
	mu     sync.Mutex
	byKey  map[string]*messages.Alert
	byID   map[string]*messages.Alert
	quorum int
	now    func() float64
	logger zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithQuorum sets how many distinct attesting nodes flip an alert to
// ATTESTED. The default of 1 is a demonstration quorum.
func WithQuorum(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.quorum = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() float64) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty alert manager.
func NewManager(logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		byKey:  make(map[string]*messages.Alert),
		byID:   make(map[string]*messages.Alert),
		quorum: 1,
		now:    func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
		logger: logger.With().Str("component", "alert_manager").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Detection carries everything a detector knows about one trigger.
type Detection struct {
	DeviceID        string
	DID             string
	Type            messages.AlertType
	Severity        string
	Message         string
	Location        messages.GeoPoint
	Confidence      float64 // 0 means "not supplied", defaults to 100
	SuggestedAction string
}

// Upsert records a detection. If an active alert exists for the
// (device, type) key it is refreshed in place; escalation to CRITICAL from a
// lower severity re-notifies observers, anything else is suppressed. The
// returned copy is safe to publish; notable reports whether observers should
// be (re)notified.
func (m *Manager) Upsert(deviceID, did string, typ messages.AlertType, severity, message string, loc messages.GeoPoint) (messages.Alert, bool) {
	return m.UpsertDetection(Detection{
		DeviceID: deviceID,
		DID:      did,
		Type:     typ,
		Severity: severity,
		Message:  message,
		Location: loc,
	})
}

// UpsertDetection is Upsert with detector-supplied confidence and suggested
// action.
func (m *Manager) UpsertDetection(det Detection) (messages.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	deviceID, typ, severity := det.DeviceID, det.Type, det.Severity
	key := deviceID + ":" + string(typ)

	if existing, ok := m.byKey[key]; ok {
		existing.LastSeen = now
		existing.Location = det.Location
		existing.Message = det.Message
		if det.Confidence > 0 {
			existing.Confidence = det.Confidence
		}

		if severity == messages.SeverityCritical && existing.Severity != messages.SeverityCritical {
			existing.Severity = messages.SeverityCritical
			if existing.Status == messages.AlertDetected {
				existing.Status = messages.AlertEscalated
			}
			m.logger.Info().
				Str("alert_id", existing.AlertID).
				Str("device_id", deviceID).
				Str("type", string(typ)).
				Msg("Alert escalated to CRITICAL")
			return *existing, true
		}
		return *existing, false
	}

	alert := messages.NewAlert(deviceID, det.DID, typ, severity, det.Message, det.Location)
	alert.FirstSeen = now
	alert.LastSeen = now
	if det.Confidence > 0 {
		alert.Confidence = det.Confidence
	}
	if det.SuggestedAction != "" {
		alert.SuggestedAction = det.SuggestedAction
	}
	m.byKey[key] = alert
	m.byID[alert.AlertID] = alert

	m.logger.Info().
		Str("alert_id", alert.AlertID).
		Str("device_id", deviceID).
		Str("type", string(typ)).
		Str("severity", severity).
		Msg("Alert raised")

	return *alert, true
}

// Acknowledge claims operator cognizance. Legal only from DETECTED or
// ESCALATED.
func (m *Manager) Acknowledge(alertID, actor string) (messages.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.byID[alertID]
	if !ok {
		return messages.Alert{}, ErrNotFound
	}
	if alert.Status != messages.AlertDetected && alert.Status != messages.AlertEscalated {
		return messages.Alert{}, ErrInvalidTransition
	}

	alert.Status = messages.AlertAcknowledged
	alert.AckBy = actor
	alert.AckTime = m.now()
	return *alert, nil
}

// Resolve terminates an alert from any non-RESOLVED state and removes it
// from the active index. A later detection of the same (device, type) opens
// a fresh alert.
func (m *Manager) Resolve(alertID, actor string, archiver Archiver) (messages.Alert, error) {
	m.mu.Lock()
	alert, ok := m.byID[alertID]
	if !ok {
		m.mu.Unlock()
		return messages.Alert{}, ErrNotFound
	}

	alert.Status = messages.AlertResolved
	alert.ResolvedBy = actor
	alert.ResolvedTime = m.now()

	delete(m.byID, alertID)
	delete(m.byKey, alert.Key())
	resolved := *alert
	m.mu.Unlock()

	if archiver != nil {
		archiver.Archive(&resolved)
	}

	m.logger.Info().
		Str("alert_id", alertID).
		Str("actor", actor).
		Msg("Alert resolved")

	return resolved, nil
}

// Claim assigns or reassigns the owning commander regardless of status and
// appends a handoff record.
func (m *Manager) Claim(alertID, actor, reason string) (messages.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.byID[alertID]
	if !ok {
		return messages.Alert{}, ErrNotFound
	}

	alert.HandoffLog = append(alert.HandoffLog, messages.Handoff{
		From:      alert.OwnerID,
		To:        actor,
		Timestamp: m.now(),
		Reason:    reason,
	})
	alert.OwnerID = actor
	return *alert, nil
}

// Attest appends a distinct attesting node. Once the quorum is reached the
// alert flips to ATTESTED.
func (m *Manager) Attest(alertID, nodeID string) (messages.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.byID[alertID]
	if !ok {
		return messages.Alert{}, ErrNotFound
	}

	for _, n := range alert.AttestingNodes {
		if n == nodeID {
			return *alert, nil
		}
	}
	alert.AttestingNodes = append(alert.AttestingNodes, nodeID)
	if len(alert.AttestingNodes) >= m.quorum {
		alert.Attestation = messages.AttestationAttested
	}
	return *alert, nil
}

// Get returns a copy of an active alert by id.
func (m *Manager) Get(alertID string) (messages.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.byID[alertID]
	if !ok {
		return messages.Alert{}, false
	}
	return *alert, true
}

// Active returns copies of all active alerts.
func (m *Manager) Active() []messages.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]messages.Alert, 0, len(m.byID))
	for _, a := range m.byID {
		out = append(out, *a)
	}
	return out
}

// ActiveCount returns the size of the active index.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}
