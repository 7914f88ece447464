package geofence

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prahari-ai/sentinel/pkg/messages"
)

func testEngine(now float64) *Engine {
	return NewEngine(zerolog.Nop(), func() float64 { return now })
}

func TestResolveCircleMembership(t *testing.T) {
	e := testEngine(1000)

	// Seed circle center is (27.5880, 91.8620) with 150m radius. Pick a
	// point inside the circle but outside the polygon's lng band.
	z := e.Resolve(messages.GeoPoint{Lat: 27.5880, Lng: 91.8608})
	require.NotNil(t, z)
	assert.Equal(t, "ZONE_001", z.ZoneID)

	assert.Nil(t, e.Resolve(messages.GeoPoint{Lat: 27.7, Lng: 91.8620}))
}

func TestResolvePolygonMembership(t *testing.T) {
	e := testEngine(1000)

	// A corner of the border box. Both seed zones contain it; the polygon
	// wins on priority.
	z := e.Resolve(messages.GeoPoint{Lat: 27.5871, Lng: 91.8629})
	require.NotNil(t, z)
	assert.Equal(t, "POLY_RED_01", z.ZoneID)
	assert.True(t, z.IsPolygon())
}

func TestResolveHighestPriorityWins(t *testing.T) {
	e := testEngine(1000)

	// The circle center lies inside the polygon too; the polygon carries
	// military priority 100 against the circle's 80.
	z := e.Resolve(messages.GeoPoint{Lat: 27.5880, Lng: 91.8620})
	require.NotNil(t, z)
	assert.Equal(t, "POLY_RED_01", z.ZoneID)
	assert.Equal(t, PriorityMilitary, z.Priority)
}

func TestResolveSkipsExpiredZones(t *testing.T) {
	e := testEngine(1000)

	_, err := e.Expire(context.Background(), "POLY_RED_01", "CMD_1", "drill over", nil)
	require.NoError(t, err)

	z := e.Resolve(messages.GeoPoint{Lat: 27.5880, Lng: 91.8620})
	require.NotNil(t, z)
	assert.Equal(t, "ZONE_001", z.ZoneID, "circle wins once the polygon is expired")
}

func TestResolveHonorsEffectiveWindow(t *testing.T) {
	e := testEngine(1000)
	e.Create(context.Background(), Zone{
		Name:          "Future curfew",
		RiskLevel:     RiskHigh,
		Center:        messages.GeoPoint{Lat: 10, Lng: 10},
		RadiusMeters:  500,
		Priority:      PriorityCivil,
		EffectiveFrom: 2000,
	}, "CMD_1", nil)

	assert.Nil(t, e.Resolve(messages.GeoPoint{Lat: 10, Lng: 10}), "zone not yet effective")
}

type staticStore struct {
	zones []Zone
	err   error
}

func (s staticStore) LoadZones(context.Context) ([]Zone, error) { return s.zones, s.err }

func TestLoadKeepsCacheOnStoreFailure(t *testing.T) {
	e := testEngine(1000)

	err := e.Load(context.Background(), staticStore{err: errors.New("db down")})
	assert.Error(t, err)
	assert.Len(t, e.Zones(), 2, "seed zones survive a failed load")
}

func TestLoadReplacesCache(t *testing.T) {
	e := testEngine(1000)

	err := e.Load(context.Background(), staticStore{zones: []Zone{{
		ZoneID:       "ZONE_DB",
		Name:         "From store",
		RiskLevel:    RiskMedium,
		Center:       messages.GeoPoint{Lat: 1, Lng: 1},
		RadiusMeters: 100,
		Active:       true,
	}}})
	require.NoError(t, err)

	zones := e.Zones()
	require.Len(t, zones, 1)
	assert.Equal(t, "ZONE_DB", zones[0].ZoneID)
}

func TestHaversineMeters(t *testing.T) {
	// One degree of latitude is roughly 111km.
	d := HaversineMeters(messages.GeoPoint{Lat: 27.0, Lng: 91.0}, messages.GeoPoint{Lat: 28.0, Lng: 91.0})
	assert.InDelta(t, 111195, d, 300)

	assert.Equal(t, 0.0, HaversineMeters(messages.GeoPoint{Lat: 27, Lng: 91}, messages.GeoPoint{Lat: 27, Lng: 91}))
}

func TestPointInPolygonEdgeCases(t *testing.T) {
	square := []messages.GeoPoint{
		{Lat: 0, Lng: 0},
		{Lat: 0, Lng: 10},
		{Lat: 10, Lng: 10},
		{Lat: 10, Lng: 0},
	}

	assert.True(t, pointInPolygon(messages.GeoPoint{Lat: 5, Lng: 5}, square))
	assert.False(t, pointInPolygon(messages.GeoPoint{Lat: 15, Lng: 5}, square))
	assert.False(t, pointInPolygon(messages.GeoPoint{Lat: 5, Lng: 15}, square))
}
