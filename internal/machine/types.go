package machine

import (
	"sync"
	"time"
)

// TemperatureSample is one reading from a machine temperature sensor.
type TemperatureSample struct {
	Time   time.Time `json:"time"`
	Sensor string    `json:"sensor"`
	Actual float64   `json:"actual"`
	Target float64   `json:"target,omitempty"`
}

// StatusTracker holds the machine's externally visible condition. The
// telemetry sampler merges its snapshot into every "current" frame; the
// device layer (or the simulator) updates it as the machine changes state.
type StatusTracker struct {
	mu       sync.RWMutex
	state    string
	job      string
	progress float64
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{state: "Operational"}
}

func (t *StatusTracker) SetState(state string) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
}

// SetJob records the active job name and its completion fraction (0..1).
func (t *StatusTracker) SetJob(name string, progress float64) {
	t.mu.Lock()
	t.job = name
	t.progress = progress
	t.mu.Unlock()
}

func (t *StatusTracker) State() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Snapshot returns the tracker's contents as the extra-state mapping merged
// into outbound current frames. The returned map is owned by the caller.
func (t *StatusTracker) Snapshot() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	extra := map[string]any{"state": t.state}
	if t.job != "" {
		extra["job"] = t.job
		extra["progress"] = t.progress
	}
	return extra
}
