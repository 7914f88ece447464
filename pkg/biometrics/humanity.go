// Package biometrics scores GPS movement for human-like entropy. Real
// carriers jitter; bots move at constant speed on rails.
package biometrics

import (
	"sync"

	"github.com/prahari-ai/sentinel/pkg/messages"
)

const (
	historyLen     = 10
	minSamples     = 5
	varianceFloor  = 0.01
	movingSpeed    = 0.5
	maxHumanSpeed  = 30.0 // m/s; beyond this nothing on foot or trail
	roboticPenalty = 40.0
	railPenalty    = 30.0
	speedPenalty   = 90.0
)

type sample struct {
	timestamp float64
	speed     float64
	heading   float64
}

// Analyzer keeps a rolling window of movement samples per device.
type Analyzer struct {
	mu      sync.Mutex
	history map[string][]sample
}

// NewAnalyzer creates an empty analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{history: make(map[string][]sample)}
}

// Observe folds a report into the device's window and returns the current
// humanity score, 0-100. Devices with too little history score 100.
func (a *Analyzer) Observe(report *messages.TelemetryReport) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := a.history[report.DeviceID]
	if len(h) == 0 || report.Timestamp > h[len(h)-1].timestamp {
		h = append(h, sample{
			timestamp: report.Timestamp,
			speed:     report.Speed,
			heading:   report.Heading,
		})
	}
	if len(h) > historyLen {
		h = h[1:]
	}
	a.history[report.DeviceID] = h

	if len(h) < minSamples {
		return 100.0
	}

	speeds := make([]float64, len(h))
	headings := make([]float64, len(h))
	maxSpeed := 0.0
	for i, s := range h {
		speeds[i] = s.speed
		headings[i] = s.heading
		if s.speed > maxSpeed {
			maxSpeed = s.speed
		}
	}

	speedVar, avgSpeed := variance(speeds)
	headingVar, _ := variance(headings)

	score := 100.0
	if speedVar < varianceFloor && avgSpeed > movingSpeed {
		score -= roboticPenalty
	}
	if headingVar < varianceFloor && avgSpeed > movingSpeed {
		score -= railPenalty
	}
	if maxSpeed > maxHumanSpeed {
		score -= speedPenalty
	}
	if score < 0 {
		score = 0
	}
	return score
}

func variance(xs []float64) (v, mean float64) {
	if len(xs) < 2 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	v /= float64(len(xs))
	return v, mean
}
