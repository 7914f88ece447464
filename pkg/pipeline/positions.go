package pipeline

import (
	"sort"
	"sync"

	"github.com/prahari-ai/sentinel/pkg/messages"
)

// PositionTable is the live last-known state per device: the most recent
// enriched report, served to the map surface and swept by the dead-man
// monitor and the anchor loop.
type PositionTable struct {
	mu     sync.RWMutex
	latest map[string]messages.EnrichedReport
}

// NewPositionTable creates an empty table.
func NewPositionTable() *PositionTable {
	return &PositionTable{latest: make(map[string]messages.EnrichedReport)}
}

// Update replaces the device's entry with the given enriched report.
func (t *PositionTable) Update(e messages.EnrichedReport) {
	t.mu.Lock()
	t.latest[e.Report.DeviceID] = e
	t.mu.Unlock()
}

// Snapshot returns a copy of every device's latest report, ordered by
// device id for deterministic sweeps.
func (t *PositionTable) Snapshot() []messages.TelemetryReport {
	t.mu.RLock()
	out := make([]messages.TelemetryReport, 0, len(t.latest))
	for _, e := range t.latest {
		out = append(out, e.Report)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Enriched returns a copy of every device's latest enriched report, ordered
// by device id.
func (t *PositionTable) Enriched() []messages.EnrichedReport {
	t.mu.RLock()
	out := make([]messages.EnrichedReport, 0, len(t.latest))
	for _, e := range t.latest {
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Report.DeviceID < out[j].Report.DeviceID })
	return out
}

// Get returns the latest enriched report for one device.
func (t *PositionTable) Get(deviceID string) (messages.EnrichedReport, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.latest[deviceID]
	return e, ok
}

// Count returns the number of tracked devices.
func (t *PositionTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.latest)
}
