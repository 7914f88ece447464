// Package geofence resolves device positions against the danger-zone set and
// manages governed zone lifecycle changes.
package geofence

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prahari-ai/sentinel/pkg/messages"
)

// Risk levels
const (
	RiskHigh   = "HIGH"
	RiskMedium = "MEDIUM"
	RiskLow    = "LOW"
)

// Authority priority bands, higher wins conflicts.
const (
	PriorityMilitary = 100
	PriorityDisaster = 80
	PriorityCivil    = 50
	PriorityTourism  = 20
)

// Zone is a named danger region, either a circle (Center+RadiusMeters) or a
// polygon (Vertices). Expired zones are soft-deleted via Active=false so the
// audit trail survives.
type Zone struct {
	ZoneID       string             `json:"zone_id"`
	Name         string             `json:"name"`
	RiskLevel    string             `json:"risk_level"`
	Center       messages.GeoPoint  `json:"center"`
	RadiusMeters float64            `json:"radius_meters"`
	Vertices     []messages.GeoPoint `json:"vertices,omitempty"`
	Description  string             `json:"description,omitempty"`

	// Governance
	Version       int     `json:"version"`
	EffectiveFrom float64 `json:"effective_from"`
	EffectiveTo   float64 `json:"effective_to,omitempty"` // zero means open-ended
	ApprovedBy    string  `json:"approved_by"`
	AuditHash     string  `json:"audit_hash"`
	Active        bool    `json:"is_active"`
	Reason        string  `json:"reason"`

	// Conflict resolution
	Priority  int    `json:"priority"`
	Authority string `json:"authority"`
}

// IsPolygon reports whether the zone is polygonal.
func (z *Zone) IsPolygon() bool {
	return len(z.Vertices) >= 3
}

// effective reports whether the zone applies at the given instant.
func (z *Zone) effective(now float64) bool {
	if !z.Active {
		return false
	}
	if z.EffectiveFrom > 0 && now < z.EffectiveFrom {
		return false
	}
	if z.EffectiveTo > 0 && now > z.EffectiveTo {
		return false
	}
	return true
}

// Contains tests point membership: ray casting for polygons, haversine
// distance against the radius for circles.
func (z *Zone) Contains(p messages.GeoPoint) bool {
	if z.IsPolygon() {
		return pointInPolygon(p, z.Vertices)
	}
	return HaversineMeters(p, z.Center) <= z.RadiusMeters
}

// Store loads the persisted zone set. Implementations may be unreachable;
// the engine falls back to the built-in seed zones rather than failing
// ingestion.
type Store interface {
	LoadZones(ctx context.Context) ([]Zone, error)
}

// Engine caches the zone set and answers point queries.
type Engine struct {
	mu     sync.RWMutex
	zones  []Zone
	now    func() float64
	logger zerolog.Logger
}

// NewEngine creates an engine seeded with the built-in fallback zones.
func NewEngine(logger zerolog.Logger, now func() float64) *Engine {
	return &Engine{
		zones:  SeedZones(),
		now:    now,
		logger: logger.With().Str("component", "geofence").Logger(),
	}
}

// Load replaces the cached zone set from the store. On store failure the
// current cache (seed zones at minimum) is kept.
func (e *Engine) Load(ctx context.Context, store Store) error {
	zones, err := store.LoadZones(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Zone store unreachable, keeping cached zone set")
		return err
	}
	e.mu.Lock()
	e.zones = zones
	e.mu.Unlock()
	e.logger.Info().Int("zones", len(zones)).Msg("Loaded zone set")
	return nil
}

// Resolve returns the winning zone for a point, or nil when no effective
// zone contains it. When several zones overlap the point, the highest
// priority wins; the sort is stable so ties resolve deterministically for a
// given zone set.
func (e *Engine) Resolve(p messages.GeoPoint) *Zone {
	now := e.now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	var candidates []Zone
	for _, z := range e.zones {
		if z.effective(now) && z.Contains(p) {
			candidates = append(candidates, z)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	winner := candidates[0]
	return &winner
}

// Zones returns a copy of the cached zone set, expired zones included.
func (e *Engine) Zones() []Zone {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Zone, len(e.zones))
	copy(out, e.zones)
	return out
}

// SeedZones is the built-in fallback zone set used when the backing store is
// unreachable at boot.
func SeedZones() []Zone {
	return []Zone{
		{
			ZoneID:       "ZONE_001",
			Name:         "Tawang Landslide Zone A",
			RiskLevel:    RiskHigh,
			Center:       messages.GeoPoint{Lat: 27.5880, Lng: 91.8620},
			RadiusMeters: 150.0,
			Description:  "High risk landslide area",
			Version:      1,
			ApprovedBy:   "SYSTEM_BOOTSTRAP",
			Active:       true,
			Reason:       "Initial deployment",
			Priority:     PriorityDisaster,
			Authority:    "DISASTER_RESPONSE",
		},
		{
			ZoneID:    "POLY_RED_01",
			Name:      "Restricted Border Zone (Polygon)",
			RiskLevel: RiskHigh,
			Vertices: []messages.GeoPoint{
				{Lat: 27.5890, Lng: 91.8610},
				{Lat: 27.5890, Lng: 91.8630},
				{Lat: 27.5870, Lng: 91.8630},
				{Lat: 27.5870, Lng: 91.8610},
			},
			Description: "Geospatial polygon restricted area",
			Version:     1,
			ApprovedBy:  "SYSTEM_BOOTSTRAP",
			Active:      true,
			Reason:      "Initial deployment",
			Priority:    PriorityMilitary,
			Authority:   "MILITARY",
		},
	}
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(p1, p2 messages.GeoPoint) float64 {
	const earthRadius = 6371000.0

	lat1 := p1.Lat * math.Pi / 180
	lat2 := p2.Lat * math.Pi / 180
	dLat := (p2.Lat - p1.Lat) * math.Pi / 180
	dLng := (p2.Lng - p1.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(a))
}

// pointInPolygon implements the standard ray casting membership test over
// lat/lng vertices.
func pointInPolygon(p messages.GeoPoint, vertices []messages.GeoPoint) bool {
	inside := false
	n := len(vertices)
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := vertices[i], vertices[j]
		if (vi.Lng > p.Lng) != (vj.Lng > p.Lng) {
			intersect := (p.Lng-vi.Lng)*(vj.Lat-vi.Lat)/(vj.Lng-vi.Lng) + vi.Lat
			if p.Lat <= intersect {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
