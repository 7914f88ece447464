// Package identity verifies device hardware identity and signed,
// replay-protected payloads before a report is trusted.
package identity

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prahari-ai/sentinel/pkg/messages"
)

// Distinct failure kinds. Each is terminal for the single report and is
// counted by the cyber defense governor.
var (
	ErrUnknownDevice    = errors.New("device not registered")
	ErrDeviceRevoked    = errors.New("device revoked")
	ErrHardwareMismatch = errors.New("hardware fingerprint mismatch")
	ErrCertMismatch     = errors.New("certificate thumbprint mismatch")
	ErrReplayDetected   = errors.New("replay detected: stale nonce")
	ErrSignatureInvalid = errors.New("signature invalid")
)

// Device statuses
const (
	StatusActive  = "ACTIVE"
	StatusRevoked = "REVOKED"
)

// Device is one registered hardware identity.
type Device struct {
	DeviceID           string
	DID                string
	AllowedFingerprint string
	CertThumbprint     string
	SecretKey          []byte
	Status             string

	mu        sync.Mutex
	lastNonce uint64
}

// Guard holds the device registry and performs admission checks.
type Guard struct {
	mu      sync.RWMutex
	devices map[string]*Device
	logger  zerolog.Logger
}

// NewGuard creates a guard over an empty registry.
func NewGuard(logger zerolog.Logger) *Guard {
	return &Guard{
		devices: make(map[string]*Device),
		logger:  logger.With().Str("component", "identity_guard").Logger(),
	}
}

// Register adds or replaces a device identity.
func (g *Guard) Register(d *Device) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d.Status == "" {
		d.Status = StatusActive
	}
	g.devices[d.DeviceID] = d
}

// Revoke marks a device revoked; it fails all future admission checks.
func (g *Guard) Revoke(deviceID string) bool {
	g.mu.RLock()
	d, ok := g.devices[deviceID]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	d.mu.Lock()
	d.Status = StatusRevoked
	d.mu.Unlock()
	return true
}

// Lookup returns the registered device, if any.
func (g *Guard) Lookup(deviceID string) (*Device, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.devices[deviceID]
	return d, ok
}

// Authenticate checks that a report comes from the specific registered
// hardware: the device must exist, be ACTIVE, and present exactly the
// expected fingerprint and certificate thumbprint.
func (g *Guard) Authenticate(deviceID, fingerprint, certRef string) error {
	d, ok := g.Lookup(deviceID)
	if !ok {
		g.logger.Warn().Str("device_id", deviceID).Msg("Unknown device")
		return ErrUnknownDevice
	}

	d.mu.Lock()
	status := d.Status
	d.mu.Unlock()
	if status != StatusActive {
		g.logger.Warn().Str("device_id", deviceID).Str("status", status).Msg("Revoked device rejected")
		return ErrDeviceRevoked
	}
	if d.AllowedFingerprint != fingerprint {
		g.logger.Warn().Str("device_id", deviceID).Msg("Hardware fingerprint mismatch")
		return ErrHardwareMismatch
	}
	if d.CertThumbprint != certRef {
		g.logger.Warn().Str("device_id", deviceID).Msg("Certificate thumbprint mismatch")
		return ErrCertMismatch
	}
	return nil
}

// Verify checks replay protection and the keyed-hash signature over the
// canonical payload. Nonces must be strictly increasing; on success the
// accepted nonce is advanced irreversibly, so a used nonce (or anything at
// or below it) can never be accepted again for that device.
func (g *Guard) Verify(deviceID, canonicalPayload, signature string, nonce uint64) error {
	d, ok := g.Lookup(deviceID)
	if !ok {
		return ErrUnknownDevice
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if nonce <= d.lastNonce {
		g.logger.Warn().
			Str("device_id", deviceID).
			Uint64("nonce", nonce).
			Uint64("last_nonce", d.lastNonce).
			Msg("Replay detected")
		return ErrReplayDetected
	}

	if !messages.VerifySignature(canonicalPayload, signature, d.SecretKey) {
		g.logger.Warn().Str("device_id", deviceID).Msg("Forged payload signature")
		return ErrSignatureInvalid
	}

	d.lastNonce = nonce
	return nil
}

// LastNonce returns the last accepted nonce for a device, for diagnostics.
func (g *Guard) LastNonce(deviceID string) uint64 {
	d, ok := g.Lookup(deviceID)
	if !ok {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastNonce
}

// SeedRegistry registers the bootstrap device set used until the MDM sync
// lands.
func SeedRegistry(g *Guard) {
	for _, d := range []*Device{
		{
			DeviceID:           "ALPINIST_SAFE",
			DID:                "did:eth:0xSAFE...001",
			AllowedFingerprint: "hw:safe:01",
			CertThumbprint:     "CERT_ALPINIST_SAFE",
			SecretKey:          []byte("sk_safe"),
		},
		{
			DeviceID:           "ALPINIST_RED",
			DID:                "did:eth:0xRED...002",
			AllowedFingerprint: "hw:red:02",
			CertThumbprint:     "CERT_ALPINIST_RED",
			SecretKey:          []byte("sk_red"),
		},
		{
			DeviceID:           "MECH_DRONE_01",
			DID:                "did:eth:0xBOT...999",
			AllowedFingerprint: "hw:bot:01",
			CertThumbprint:     "CERT_MECH_DRONE_01",
			SecretKey:          []byte("sk_bot"),
		},
		{
			DeviceID:           "SIGNAL_LOST",
			DID:                "did:eth:0xDEAD...666",
			AllowedFingerprint: "hw:dead:01",
			CertThumbprint:     "CERT_SIGNAL_LOST",
			SecretKey:          []byte("sk_dead"),
		},
	} {
		g.Register(d)
	}
}
