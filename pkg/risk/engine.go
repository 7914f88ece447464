// Package risk scores telemetry reports against spatial, behavioral,
// temporal and weather factors.
package risk

import (
	"time"

	"github.com/prahari-ai/sentinel/pkg/geofence"
	"github.com/prahari-ai/sentinel/pkg/messages"
)

// Factor tags, emitted in evaluation order: spatial, behavioral, temporal,
// weather, then override.
const (
	FactorRedZoneBreach  = "RED_ZONE_BREACH"
	FactorWarnZoneEntry  = "WARN_ZONE_ENTRY"
	FactorStagnation     = "STAGNATION_IN_RISK_ZONE"
	FactorNightMult      = "NIGHT_MULTIPLIER"
	FactorSevereWeather  = "SEVERE_WEATHER_WARNING"
	FactorWeatherAdvisor = "WEATHER_ADVISORY"
	FactorPanicOverride  = "SOS_PANIC_BUTTON"
)

// Scoring weights.
const (
	highZoneWeight     = 50
	mediumZoneWeight   = 25
	stagnationInZone   = 20
	stagnationBaseline = 5
	severeWeatherAdd   = 30
	weatherAdvisoryAdd = 10
	nightMultiplier    = 1.2
	stagnationSpeed    = 0.1
	maxScore           = 100
)

// Engine computes composite 0-100 risk scores.
type Engine struct {
	weather  WeatherProvider
	location *time.Location
}

// NewEngine creates a risk engine. A nil weather provider disables the
// weather contribution; a nil location evaluates night hours in local time.
func NewEngine(weather WeatherProvider, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{weather: weather, location: loc}
}

// Score evaluates one report against its resolved zone (nil when the point
// is in no zone). The additive scoring is intentionally not a normalized
// probability; a panic flag overrides everything.
func (e *Engine) Score(report *messages.TelemetryReport, zone *geofence.Zone) messages.RiskResult {
	if report.IsPanic {
		return messages.RiskResult{
			Score:   maxScore,
			Status:  messages.StatusCritical,
			Factors: []string{FactorPanicOverride},
		}
	}

	score := 0.0
	factors := []string{}

	// Spatial
	if zone != nil {
		switch zone.RiskLevel {
		case geofence.RiskHigh:
			score += highZoneWeight
			factors = append(factors, FactorRedZoneBreach)
		case geofence.RiskMedium:
			score += mediumZoneWeight
			factors = append(factors, FactorWarnZoneEntry)
		}
	}

	// Behavioral: near-zero speed reads as stagnation, amplified in a zone.
	if report.Speed < stagnationSpeed {
		if zone != nil {
			score += stagnationInZone
			factors = append(factors, FactorStagnation)
		} else {
			score += stagnationBaseline
		}
	}

	// Temporal: night hours multiply risk already accrued.
	hour := time.Unix(int64(report.Timestamp), 0).In(e.location).Hour()
	if (hour >= 18 || hour < 5) && score > 0 {
		score *= nightMultiplier
		factors = append(factors, FactorNightMult)
	}

	// Weather
	if e.weather != nil {
		condition := e.weather.Condition(report.Location.Lat, report.Location.Lng)
		if severeConditions[condition] {
			score += severeWeatherAdd
			factors = append(factors, FactorSevereWeather+": "+condition)
		} else if advisoryConditions[condition] {
			score += weatherAdvisoryAdd
			factors = append(factors, FactorWeatherAdvisor+": "+condition)
		}
	}

	if score > maxScore {
		score = maxScore
	}

	status := messages.StatusSafe
	switch {
	case score >= 80:
		status = messages.StatusCritical
	case score >= 50:
		status = messages.StatusWarning
	}

	return messages.RiskResult{Score: int(score), Status: status, Factors: factors}
}
