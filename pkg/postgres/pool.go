// Package postgres provides PostgreSQL connection pooling and the durable
// stores behind telemetry history, alert archive and zone governance.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/prahari-ai/sentinel/pkg/geofence"
	"github.com/prahari-ai/sentinel/pkg/messages"
)

// Pool wraps pgxpool.Pool with domain-specific query methods
type Pool struct {
	*pgxpool.Pool
	logger zerolog.Logger
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// Pool settings
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
	HealthCheck time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        5432,
		Database:    "sentinel",
		User:        "sentinel",
		Password:    "sentinel",
		SSLMode:     "disable",
		MaxConns:    25,
		MinConns:    5,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
		HealthCheck: time.Minute,
	}
}

// ConnectionString builds a PostgreSQL connection string
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// NewPool creates a new PostgreSQL connection pool
func NewPool(ctx context.Context, cfg Config, logger zerolog.Logger) (*Pool, error) {
	return NewPoolFromURL(ctx, cfg.ConnectionString(), logger)
}

// NewPoolFromURL creates a pool from a connection URL
func NewPoolFromURL(ctx context.Context, url string, logger zerolog.Logger) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool, logger: logger.With().Str("component", "postgres").Logger()}, nil
}

// PutTelemetry appends one enriched report to the history table.
func (p *Pool) PutTelemetry(ctx context.Context, e *messages.EnrichedReport) error {
	query := `
		INSERT INTO telemetry_history (
			device_id, did, ts,
			lat, lng, raw_lat, raw_lng,
			speed, heading, battery_level, is_panic, humanity_score,
			risk_score, risk_status, risk_factors,
			zone_id, permit_status
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15,
			$16, $17
		)
	`

	r := &e.Report
	rawLat, rawLng := r.Location.Lat, r.Location.Lng
	if r.RawLocation != nil {
		rawLat, rawLng = r.RawLocation.Lat, r.RawLocation.Lng
	}

	_, err := p.Exec(ctx, query,
		r.DeviceID, r.DID, r.Timestamp,
		r.Location.Lat, r.Location.Lng, rawLat, rawLng,
		r.Speed, r.Heading, r.BatteryLevel, r.IsPanic, r.HumanityScore,
		e.Risk.Score, e.Risk.Status, e.Risk.Factors,
		nullIfEmpty(e.ZoneID), nullIfEmpty(e.PermitStatus),
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// HistoryRow is one persisted telemetry sample with its risk evaluation.
type HistoryRow struct {
	DeviceID     string   `json:"device_id"`
	Timestamp    float64  `json:"timestamp"`
	Location     messages.GeoPoint `json:"location"`
	Speed        float64  `json:"speed"`
	Heading      float64  `json:"heading"`
	BatteryLevel float64  `json:"battery_level"`
	RiskScore    int      `json:"risk_score"`
	RiskStatus   string   `json:"risk_status"`
	RiskFactors  []string `json:"risk_factors"`
	ZoneID       string   `json:"zone_id,omitempty"`
}

// QueryHistory returns a device's samples newer than since (epoch seconds),
// newest first.
func (p *Pool) QueryHistory(ctx context.Context, deviceID string, since float64, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `
		SELECT
			device_id, ts, lat, lng, speed, heading, battery_level,
			risk_score, risk_status, risk_factors, zone_id
		FROM telemetry_history
		WHERE device_id = $1 AND ts > $2
		ORDER BY ts DESC
		LIMIT $3
	`

	rows, err := p.Query(ctx, query, deviceID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var h HistoryRow
		var zoneID *string
		err := rows.Scan(
			&h.DeviceID, &h.Timestamp, &h.Location.Lat, &h.Location.Lng,
			&h.Speed, &h.Heading, &h.BatteryLevel,
			&h.RiskScore, &h.RiskStatus, &h.RiskFactors, &zoneID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if zoneID != nil {
			h.ZoneID = *zoneID
		}
		out = append(out, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return out, nil
}

// PutAlert upserts an alert row, keyed by alert id. Lifecycle transitions
// overwrite the mutable fields.
func (p *Pool) PutAlert(ctx context.Context, a *messages.Alert) error {
	query := `
		INSERT INTO alerts (
			alert_id, device_id, did, type, severity, status, message,
			lat, lng, first_seen, last_seen,
			acknowledged_by, resolved_by, owner_id,
			confidence, suggested_action, attestation, handoff_log
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18
		)
		ON CONFLICT (alert_id) DO UPDATE SET
			severity = EXCLUDED.severity,
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			last_seen = EXCLUDED.last_seen,
			acknowledged_by = EXCLUDED.acknowledged_by,
			resolved_by = EXCLUDED.resolved_by,
			owner_id = EXCLUDED.owner_id,
			confidence = EXCLUDED.confidence,
			attestation = EXCLUDED.attestation,
			handoff_log = EXCLUDED.handoff_log
	`

	handoffs, err := json.Marshal(a.HandoffLog)
	if err != nil {
		return fmt.Errorf("failed to encode handoff log: %w", err)
	}

	_, err = p.Exec(ctx, query,
		a.AlertID, a.DeviceID, a.DID, string(a.Type), a.Severity, a.Status, a.Message,
		a.Location.Lat, a.Location.Lng, a.FirstSeen, a.LastSeen,
		nullIfEmpty(a.AckBy), nullIfEmpty(a.ResolvedBy), nullIfEmpty(a.OwnerID),
		a.Confidence, a.SuggestedAction, a.Attestation, handoffs,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alert: %w", err)
	}
	return nil
}

// Archive satisfies the alert archiver contract. Best-effort: failures are
// logged, never propagated.
func (p *Pool) Archive(alert *messages.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.PutAlert(ctx, alert); err != nil {
		p.logger.Warn().Err(err).Str("alert_id", alert.AlertID).Msg("Alert archive failed")
	}
}

// LoadZones returns every zone row, active and expired, for the geofence
// cache.
func (p *Pool) LoadZones(ctx context.Context) ([]geofence.Zone, error) {
	query := `
		SELECT
			zone_id, name, risk_level,
			center_lat, center_lng, radius_meters, vertices,
			description, version, effective_from, effective_to,
			approved_by, audit_hash, is_active, reason,
			priority, authority
		FROM zones
		ORDER BY zone_id
	`

	rows, err := p.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []geofence.Zone
	for rows.Next() {
		var z geofence.Zone
		var vertices []byte
		var description, reason *string
		var effectiveTo *float64
		err := rows.Scan(
			&z.ZoneID, &z.Name, &z.RiskLevel,
			&z.Center.Lat, &z.Center.Lng, &z.RadiusMeters, &vertices,
			&description, &z.Version, &z.EffectiveFrom, &effectiveTo,
			&z.ApprovedBy, &z.AuditHash, &z.Active, &reason,
			&z.Priority, &z.Authority,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		if len(vertices) > 0 {
			if err := json.Unmarshal(vertices, &z.Vertices); err != nil {
				return nil, fmt.Errorf("failed to decode zone vertices: %w", err)
			}
		}
		if description != nil {
			z.Description = *description
		}
		if reason != nil {
			z.Reason = *reason
		}
		if effectiveTo != nil {
			z.EffectiveTo = *effectiveTo
		}
		zones = append(zones, z)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating zones: %w", err)
	}
	return zones, nil
}

// SaveZone upserts a zone row, keyed by zone id. Expiry writes the same row
// with is_active=false and the chained hash.
func (p *Pool) SaveZone(ctx context.Context, z geofence.Zone) error {
	vertices, err := json.Marshal(z.Vertices)
	if err != nil {
		return fmt.Errorf("failed to encode zone vertices: %w", err)
	}

	query := `
		INSERT INTO zones (
			zone_id, name, risk_level,
			center_lat, center_lng, radius_meters, vertices,
			description, version, effective_from, effective_to,
			approved_by, audit_hash, is_active, reason,
			priority, authority
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17
		)
		ON CONFLICT (zone_id) DO UPDATE SET
			version = EXCLUDED.version,
			effective_to = EXCLUDED.effective_to,
			audit_hash = EXCLUDED.audit_hash,
			is_active = EXCLUDED.is_active,
			reason = EXCLUDED.reason
	`

	var effectiveTo *float64
	if z.EffectiveTo > 0 {
		effectiveTo = &z.EffectiveTo
	}

	_, err = p.Exec(ctx, query,
		z.ZoneID, z.Name, z.RiskLevel,
		z.Center.Lat, z.Center.Lng, z.RadiusMeters, vertices,
		nullIfEmpty(z.Description), z.Version, z.EffectiveFrom, effectiveTo,
		z.ApprovedBy, z.AuditHash, z.Active, nullIfEmpty(z.Reason),
		z.Priority, z.Authority,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert zone: %w", err)
	}
	return nil
}

// RecordZoneChange appends a governance audit record. Best-effort: the zone
// change itself has already happened in the live cache.
func (p *Pool) RecordZoneChange(ctx context.Context, rec geofence.AuditRecord) {
	query := `
		INSERT INTO zone_audit_log (
			log_id, zone_id, action, actor_id, ts, old_hash, new_hash, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := p.Exec(ctx, query,
		rec.LogID, rec.ZoneID, rec.Action, rec.ActorID,
		rec.Timestamp, nullIfEmpty(rec.OldHash), rec.NewHash, nullIfEmpty(rec.Reason),
	)
	if err != nil {
		p.logger.Warn().Err(err).Str("zone_id", rec.ZoneID).Msg("Zone audit write failed")
	}
}

// ZoneAuditTrail returns the audit records for one zone, oldest first, so
// the hash chain can be replayed.
func (p *Pool) ZoneAuditTrail(ctx context.Context, zoneID string) ([]geofence.AuditRecord, error) {
	query := `
		SELECT log_id, zone_id, action, actor_id, ts, old_hash, new_hash, reason
		FROM zone_audit_log
		WHERE zone_id = $1
		ORDER BY ts ASC
	`

	rows, err := p.Query(ctx, query, zoneID)
	if err != nil {
		return nil, fmt.Errorf("failed to query zone audit trail: %w", err)
	}
	defer rows.Close()

	var recs []geofence.AuditRecord
	for rows.Next() {
		var rec geofence.AuditRecord
		var oldHash, reason *string
		err := rows.Scan(
			&rec.LogID, &rec.ZoneID, &rec.Action, &rec.ActorID,
			&rec.Timestamp, &oldHash, &rec.NewHash, &reason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if oldHash != nil {
			rec.OldHash = *oldHash
		}
		if reason != nil {
			rec.Reason = *reason
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit trail: %w", err)
	}
	return recs, nil
}

// CountAlertsByStatus returns alert counts grouped by lifecycle status.
func (p *Pool) CountAlertsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := p.Query(ctx, `SELECT status, COUNT(*) FROM alerts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan alert count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// GetAlert retrieves a single archived alert by id, or nil when absent.
func (p *Pool) GetAlert(ctx context.Context, alertID string) (*messages.Alert, error) {
	query := `
		SELECT
			alert_id, device_id, did, type, severity, status, message,
			lat, lng, first_seen, last_seen,
			acknowledged_by, resolved_by, owner_id,
			confidence, suggested_action, attestation, handoff_log
		FROM alerts
		WHERE alert_id = $1
	`

	var a messages.Alert
	var typ string
	var ackBy, resBy, ownerID *string
	var handoffs []byte

	err := p.QueryRow(ctx, query, alertID).Scan(
		&a.AlertID, &a.DeviceID, &a.DID, &typ, &a.Severity, &a.Status, &a.Message,
		&a.Location.Lat, &a.Location.Lng, &a.FirstSeen, &a.LastSeen,
		&ackBy, &resBy, &ownerID,
		&a.Confidence, &a.SuggestedAction, &a.Attestation, &handoffs,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	a.Type = messages.AlertType(typ)
	if ackBy != nil {
		a.AckBy = *ackBy
	}
	if resBy != nil {
		a.ResolvedBy = *resBy
	}
	if ownerID != nil {
		a.OwnerID = *ownerID
	}
	if len(handoffs) > 0 {
		if err := json.Unmarshal(handoffs, &a.HandoffLog); err != nil {
			return nil, fmt.Errorf("failed to decode handoff log: %w", err)
		}
	}
	return &a, nil
}

// Health checks if the database connection is healthy
func (p *Pool) Health(ctx context.Context) error {
	return p.Ping(ctx)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
