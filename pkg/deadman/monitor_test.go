package deadman

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prahari-ai/sentinel/pkg/alerts"
	"github.com/prahari-ai/sentinel/pkg/geofence"
	"github.com/prahari-ai/sentinel/pkg/messages"
	"github.com/prahari-ai/sentinel/pkg/risk"
)

type staticPositions []messages.TelemetryReport

func (p staticPositions) Snapshot() []messages.TelemetryReport { return p }

type recordingNotifier struct {
	alerts []messages.Alert
}

func (n *recordingNotifier) NotifyAlert(a messages.Alert) { n.alerts = append(n.alerts, a) }

// highRiskPoint sits inside both seed zones, which are HIGH risk.
var highRiskPoint = messages.GeoPoint{Lat: 27.5880, Lng: 91.8620}

func sweepMonitor(positions Positions, weather risk.WeatherProvider, now float64) (*Monitor, *alerts.Manager, *recordingNotifier) {
	manager := alerts.NewManager(zerolog.Nop(), alerts.WithClock(func() float64 { return now }))
	notifier := &recordingNotifier{}
	m := NewMonitor(Config{
		Positions: positions,
		Zones:     geofence.NewEngine(zerolog.Nop(), func() float64 { return now }),
		Weather:   weather,
		Manager:   manager,
		Notifier:  notifier,
		Now:       func() float64 { return now },
	}, zerolog.Nop())
	return m, manager, notifier
}

func TestSilentDeviceInHighRiskZoneTriggers(t *testing.T) {
	pos := staticPositions{{
		DeviceID:     "SIGNAL_LOST",
		DID:          "did:eth:0xDEAD...666",
		Timestamp:    1000,
		Location:     highRiskPoint,
		Speed:        0.0,
		BatteryLevel: 80,
	}}
	m, manager, notifier := sweepMonitor(pos, risk.StaticWeather("Clear Sky"), 1180)

	m.Sweep(context.Background())

	require.Len(t, notifier.alerts, 1)
	a := notifier.alerts[0]
	assert.Equal(t, messages.AlertSignalLost, a.Type)
	// 60 base + 10 stationary = 70, over the dispatch midpoint.
	assert.Equal(t, 70.0, a.Confidence)
	assert.Equal(t, messages.SeverityCritical, a.Severity)
	assert.Equal(t, "Dispatch search team to last known position", a.SuggestedAction)
	assert.Contains(t, a.Message, "Last contact 3 min ago")
	assert.Equal(t, 1, manager.ActiveCount())
}

func TestLowBatteryDowngradesConfidence(t *testing.T) {
	pos := staticPositions{{
		DeviceID:     "SIGNAL_LOST",
		Timestamp:    1000,
		Location:     highRiskPoint,
		Speed:        2.0,
		BatteryLevel: 10,
	}}
	m, _, notifier := sweepMonitor(pos, risk.StaticWeather("Clear Sky"), 1100)

	m.Sweep(context.Background())

	require.Len(t, notifier.alerts, 1)
	a := notifier.alerts[0]
	// 60 base - 20 low battery = 40: likely a drained battery, not an incident.
	assert.Equal(t, 40.0, a.Confidence)
	assert.Equal(t, messages.SeverityMedium, a.Severity)
	assert.Equal(t, "Attempt radio contact; schedule welfare check", a.SuggestedAction)
}

func TestSevereWeatherOffsetsLowBattery(t *testing.T) {
	pos := staticPositions{{
		DeviceID:     "SIGNAL_LOST",
		Timestamp:    1000,
		Location:     highRiskPoint,
		Speed:        0.0,
		BatteryLevel: 10,
	}}
	m, _, notifier := sweepMonitor(pos, risk.StaticWeather("Thunderstorm"), 1100)

	m.Sweep(context.Background())

	require.Len(t, notifier.alerts, 1)
	// 60 - 20 + 15 + 10 = 65.
	assert.Equal(t, 65.0, notifier.alerts[0].Confidence)
	assert.Equal(t, messages.SeverityCritical, notifier.alerts[0].Severity)
}

func TestFreshSignalDoesNotTrigger(t *testing.T) {
	pos := staticPositions{{
		DeviceID:  "ALPINIST_SAFE",
		Timestamp: 1050,
		Location:  highRiskPoint,
	}}
	m, manager, _ := sweepMonitor(pos, nil, 1100)

	m.Sweep(context.Background())
	assert.Equal(t, 0, manager.ActiveCount(), "50s of silence is under the 60s threshold")
}

func TestSilenceOutsideHighRiskZoneIgnored(t *testing.T) {
	pos := staticPositions{{
		DeviceID:  "ALPINIST_SAFE",
		Timestamp: 1000,
		Location:  messages.GeoPoint{Lat: 28.0, Lng: 92.0},
	}}
	m, manager, _ := sweepMonitor(pos, nil, 2000)

	m.Sweep(context.Background())
	assert.Equal(t, 0, manager.ActiveCount())
}

func TestRepeatedSweepDoesNotRenotify(t *testing.T) {
	pos := staticPositions{{
		DeviceID:     "SIGNAL_LOST",
		Timestamp:    1000,
		Location:     highRiskPoint,
		BatteryLevel: 80,
	}}
	m, _, notifier := sweepMonitor(pos, risk.StaticWeather("Clear Sky"), 1200)

	m.Sweep(context.Background())
	m.Sweep(context.Background())

	assert.Len(t, notifier.alerts, 1, "the open alert is refreshed, not re-announced")
}
