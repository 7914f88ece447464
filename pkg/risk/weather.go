package risk

// WeatherProvider answers a coarse weather condition for a coordinate.
// Lookups must degrade gracefully; implementations never return an error,
// only a possibly stale or default condition.
type WeatherProvider interface {
	Condition(lat, lng float64) string
}

// Weather conditions recognized by the engine, tiered by severity.
var (
	severeConditions   = map[string]bool{"Thunderstorm": true, "Heavy Snow": true, "Blizzard": true}
	advisoryConditions = map[string]bool{"Rain": true, "Fog": true}
)

// MicroClimate simulates a weather feed with a localized storm cell over the
// high-risk zone coordinates. Stands in for a real meteorology upstream.
type MicroClimate struct{}

// Condition returns the simulated condition for a coordinate.
func (MicroClimate) Condition(lat, lng float64) string {
	if lat > 27.585 && lat < 27.590 && lng > 91.855 && lng < 91.865 {
		return "Thunderstorm"
	}
	return "Clear Sky"
}

// StaticWeather always reports the same condition. Useful as a degraded
// fallback and in tests.
type StaticWeather string

// Condition returns the fixed condition.
func (s StaticWeather) Condition(lat, lng float64) string { return string(s) }
