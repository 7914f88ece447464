// Package filter provides the per-device position smoother.
//
// The smoother is a deliberately simplified Kalman-style filter: it blends
// the raw fix with a velocity-extrapolated prediction using a fixed scalar
// gain instead of a fully propagated covariance. The uncertainty matrix is
// carried in the state for parity with the historical tracker but does not
// participate in the gain.
package filter

import (
	"sync"

	"github.com/prahari-ai/sentinel/pkg/messages"
)

// Fixed blend factor: trust the sensor 60%, the motion model 40%.
const gain = 0.6

// minDT clamps non-positive time deltas from out-of-order delivery.
const minDT = 0.01

// State holds the filter state for one device: position, velocity and the
// (unused, see package doc) uncertainty diagonal.
type State struct {
	X      [4]float64    // [lat, lng, lat-velocity, lng-velocity]
	P      [4][4]float64 // uncertainty matrix
	LastTS float64
}

// Smoother maintains one State per device and serializes updates per device.
type Smoother struct {
	mu     sync.RWMutex
	states map[string]*deviceState
}

type deviceState struct {
	mu sync.Mutex
	State
}

// NewSmoother creates an empty smoother.
func NewSmoother() *Smoother {
	return &Smoother{states: make(map[string]*deviceState)}
}

// Smooth folds a raw fix into the device's filter state and returns the
// stabilized estimate. The first fix from a device passes through unchanged
// and seeds the state with zero velocity and high uncertainty.
func (s *Smoother) Smooth(deviceID string, rawLat, rawLng, timestamp float64) (float64, float64) {
	ds := s.state(deviceID, rawLat, rawLng, timestamp)

	ds.mu.Lock()
	defer ds.mu.Unlock()

	dt := timestamp - ds.LastTS
	if dt <= 0 {
		dt = minDT
	}

	// Predict: extrapolate current velocity over dt.
	ds.X[0] += ds.X[2] * dt
	ds.X[1] += ds.X[3] * dt

	// Innovation: observed minus predicted.
	yLat := rawLat - ds.X[0]
	yLng := rawLng - ds.X[1]

	// Update: blend prediction and observation with the fixed gain, then
	// re-derive velocity from the applied position delta.
	ds.X[0] += gain * yLat
	ds.X[1] += gain * yLng
	ds.X[2] = gain * yLat / dt
	ds.X[3] = gain * yLng / dt

	ds.LastTS = timestamp

	return ds.X[0], ds.X[1]
}

// Snapshot returns a copy of the current state for a device, or false if the
// device has never reported.
func (s *Smoother) Snapshot(deviceID string) (State, bool) {
	s.mu.RLock()
	ds, ok := s.states[deviceID]
	s.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.State, true
}

func (s *Smoother) state(deviceID string, lat, lng, ts float64) *deviceState {
	s.mu.RLock()
	ds, ok := s.states[deviceID]
	s.mu.RUnlock()
	if ok {
		return ds
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok = s.states[deviceID]; ok {
		return ds
	}

	ds = &deviceState{State: State{
		X:      [4]float64{lat, lng, 0, 0},
		LastTS: ts,
	}}
	ds.P[0][0] = 1
	ds.P[1][1] = 1
	ds.P[2][2] = 1000
	ds.P[3][3] = 1000
	s.states[deviceID] = ds
	return ds
}

// SmoothPoint is a convenience wrapper over Smooth for GeoPoint values.
func (s *Smoother) SmoothPoint(deviceID string, raw messages.GeoPoint, timestamp float64) messages.GeoPoint {
	lat, lng := s.Smooth(deviceID, raw.Lat, raw.Lng, timestamp)
	return messages.GeoPoint{Lat: lat, Lng: lng}
}
