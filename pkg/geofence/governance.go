package geofence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrZoneNotFound is returned when a governance action targets an unknown
// zone id.
var ErrZoneNotFound = errors.New("zone not found")

// AuditRecord is the immutable trace of one boundary change. NewHash chains
// to OldHash, giving each zone a verifiable append-only history.
type AuditRecord struct {
	LogID     string  `json:"log_id"`
	ZoneID    string  `json:"zone_id"`
	Action    string  `json:"action"`
	ActorID   string  `json:"actor_id"`
	Timestamp float64 `json:"timestamp"`
	OldHash   string  `json:"old_hash"`
	NewHash   string  `json:"new_hash"`
	Reason    string  `json:"reason"`
}

// AuditSink receives governance audit records, best-effort.
type AuditSink interface {
	RecordZoneChange(ctx context.Context, rec AuditRecord)
}

// CreateHash derives the integrity hash for a newly created zone.
func CreateHash(z Zone) string {
	payload := fmt.Sprintf("%s|%f|%f|%f|%s|%s|%d",
		z.Name, z.Center.Lat, z.Center.Lng, z.RadiusMeters, z.RiskLevel, z.Reason, z.Priority)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// ExpireHash derives the integrity hash for a zone expiry from the previous
// hash, extending the chain.
func ExpireHash(prevHash, reason string) string {
	sum := sha256.Sum256([]byte(prevHash + "|EXPIRED|" + reason))
	return hex.EncodeToString(sum[:])
}

// Create adds a zone to the live cache. The zone id and integrity hash are
// assigned here; the caller provides shape, risk and priority. An audit
// record chaining from the empty hash is emitted.
func (e *Engine) Create(ctx context.Context, z Zone, actor string, sink AuditSink) Zone {
	now := e.now()

	if z.ZoneID == "" {
		z.ZoneID = "ZONE_" + uuid.New().String()[:8]
	}
	z.Version = 1
	z.Active = true
	z.ApprovedBy = actor
	if z.EffectiveFrom == 0 {
		z.EffectiveFrom = now
	}
	z.AuditHash = CreateHash(z)

	e.mu.Lock()
	e.zones = append(e.zones, z)
	e.mu.Unlock()

	if sink != nil {
		sink.RecordZoneChange(ctx, AuditRecord{
			LogID:     uuid.New().String(),
			ZoneID:    z.ZoneID,
			Action:    "CREATE",
			ActorID:   actor,
			Timestamp: now,
			OldHash:   "",
			NewHash:   z.AuditHash,
			Reason:    z.Reason,
		})
	}

	e.logger.Info().
		Str("zone_id", z.ZoneID).
		Str("risk_level", z.RiskLevel).
		Int("priority", z.Priority).
		Str("actor", actor).
		Msg("Zone created")

	return z
}

// Expire soft-deletes a zone: it stays in the cache with Active=false and a
// new hash chained from its previous hash, preserving the audit trail.
func (e *Engine) Expire(ctx context.Context, zoneID, actor, reason string, sink AuditSink) (Zone, error) {
	now := e.now()

	e.mu.Lock()
	idx := -1
	for i := range e.zones {
		if e.zones[i].ZoneID == zoneID {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return Zone{}, ErrZoneNotFound
	}

	z := &e.zones[idx]
	oldHash := z.AuditHash
	z.Active = false
	z.EffectiveTo = now
	z.Version++
	z.Reason = reason
	z.AuditHash = ExpireHash(oldHash, reason)
	expired := *z
	e.mu.Unlock()

	if sink != nil {
		sink.RecordZoneChange(ctx, AuditRecord{
			LogID:     uuid.New().String(),
			ZoneID:    zoneID,
			Action:    "EXPIRE",
			ActorID:   actor,
			Timestamp: now,
			OldHash:   oldHash,
			NewHash:   expired.AuditHash,
			Reason:    reason,
		})
	}

	e.logger.Info().
		Str("zone_id", zoneID).
		Str("actor", actor).
		Str("reason", reason).
		Msg("Zone expired")

	return expired, nil
}
