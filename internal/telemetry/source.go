package telemetry

import (
	"github.com/printdeck/server/internal/machine"
)

// Source provides temperature readings for the sampler's poll loop. A source
// only needs to be safe for use from a single goroutine (the poll loop).
type Source interface {
	// Name returns a short lowercase identifier for this source, e.g.
	// "host" or "simulated". Surfaced in logs only.
	Name() string

	// Sample reads the current temperatures. It is called once per poll
	// tick and should be cheap; a source with nothing to report returns an
	// empty slice.
	Sample() ([]machine.TemperatureSample, error)
}
