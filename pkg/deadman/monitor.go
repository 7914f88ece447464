// Package deadman sweeps the live position table for devices that have gone
// silent inside high-risk zones.
package deadman

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prahari-ai/sentinel/pkg/alerts"
	"github.com/prahari-ai/sentinel/pkg/geofence"
	"github.com/prahari-ai/sentinel/pkg/messages"
	"github.com/prahari-ai/sentinel/pkg/risk"
)

// Confidence model for a synthesized signal-lost detection.
const (
	baseConfidence     = 60.0
	lowBatteryPenalty  = 20.0 // battery likely ran out, loss is explicable
	severeWeatherBonus = 15.0 // conditions dangerous, loss is alarming
	stationaryBonus    = 10.0 // device was already not moving
	lowBatteryLevel    = 20.0
	criticalMidpoint   = 50.0
)

// Notifier receives newly notable alerts produced by the sweep.
type Notifier interface {
	NotifyAlert(alert messages.Alert)
}

// Positions supplies a snapshot copy of the live position table so the sweep
// never holds ingestion locks.
type Positions interface {
	Snapshot() []messages.TelemetryReport
}

// Monitor is the periodic dead-man sweep.
type Monitor struct {
	positions Positions
	zones     *geofence.Engine
	weather   risk.WeatherProvider
	manager   *alerts.Manager
	notifier  Notifier

	interval  time.Duration
	threshold time.Duration
	now       func() float64
	logger    zerolog.Logger
}

// Config bundles the monitor collaborators and tuning.
type Config struct {
	Positions Positions
	Zones     *geofence.Engine
	Weather   risk.WeatherProvider
	Manager   *alerts.Manager
	Notifier  Notifier
	Interval  time.Duration // default 30s
	Threshold time.Duration // silence threshold, default 60s
	Now       func() float64
}

// NewMonitor creates a monitor; zero durations get defaults.
func NewMonitor(cfg Config, logger zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
	}
	return &Monitor{
		positions: cfg.Positions,
		zones:     cfg.Zones,
		weather:   cfg.Weather,
		manager:   cfg.Manager,
		notifier:  cfg.Notifier,
		interval:  cfg.Interval,
		threshold: cfg.Threshold,
		now:       cfg.Now,
		logger:    logger.With().Str("component", "deadman_monitor").Logger(),
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info().
		Dur("interval", m.interval).
		Dur("threshold", m.threshold).
		Msg("Dead-man monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Dead-man monitor stopped")
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep examines every known device once. A failure handling one device
// never aborts the sweep for the others.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.now()
	for _, pos := range m.positions.Snapshot() {
		m.checkDevice(now, pos)
	}
}

func (m *Monitor) checkDevice(now float64, pos messages.TelemetryReport) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("device_id", pos.DeviceID).
				Interface("panic", r).
				Msg("Sweep entry failed")
		}
	}()

	elapsed := now - pos.Timestamp
	if elapsed <= m.threshold.Seconds() {
		return
	}

	zone := m.zones.Resolve(pos.Location)
	if zone == nil || zone.RiskLevel != geofence.RiskHigh {
		return
	}

	confidence := baseConfidence
	if pos.BatteryLevel < lowBatteryLevel {
		confidence -= lowBatteryPenalty
	}
	if m.weather != nil && severeCondition(m.weather.Condition(pos.Location.Lat, pos.Location.Lng)) {
		confidence += severeWeatherBonus
	}
	if pos.Speed < 0.1 {
		confidence += stationaryBonus
	}

	severity := messages.SeverityMedium
	action := "Attempt radio contact; schedule welfare check"
	if confidence >= criticalMidpoint {
		severity = messages.SeverityCritical
		action = "Dispatch search team to last known position"
	}

	msg := fmt.Sprintf("Signal lost in high-risk zone (%s). Last contact %d min ago.",
		zone.Name, int(elapsed/60))

	alert, notable := m.manager.UpsertDetection(alerts.Detection{
		DeviceID:        pos.DeviceID,
		DID:             pos.DID,
		Type:            messages.AlertSignalLost,
		Severity:        severity,
		Message:         msg,
		Location:        pos.Location,
		Confidence:      confidence,
		SuggestedAction: action,
	})

	if notable {
		m.logger.Warn().
			Str("device_id", pos.DeviceID).
			Float64("elapsed_s", elapsed).
			Float64("confidence", confidence).
			Str("severity", severity).
			Msg("Dead-man trigger")
		if m.notifier != nil {
			m.notifier.NotifyAlert(alert)
		}
	}
}

func severeCondition(c string) bool {
	switch c {
	case "Thunderstorm", "Heavy Snow", "Blizzard":
		return true
	}
	return false
}
