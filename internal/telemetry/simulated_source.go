package telemetry

import (
	"math"
	"math/rand"
	"time"

	"github.com/printdeck/server/internal/machine"
)

// SimulatedSource produces plausible hotend and bed temperature curves so
// the full push path can run without hardware attached.
type SimulatedSource struct {
	start      time.Time
	toolTarget float64
	bedTarget  float64
}

func NewSimulatedSource() *SimulatedSource {
	return &SimulatedSource{
		start:      time.Now(),
		toolTarget: 205,
		bedTarget:  60,
	}
}

func (s *SimulatedSource) Name() string { return "simulated" }

func (s *SimulatedSource) Sample() ([]machine.TemperatureSample, error) {
	now := time.Now()
	elapsed := now.Sub(s.start).Seconds()

	return []machine.TemperatureSample{
		{
			Time:   now,
			Sensor: "tool0",
			Actual: approach(20, s.toolTarget, elapsed, 90) + jitter(0.8),
			Target: s.toolTarget,
		},
		{
			Time:   now,
			Sensor: "bed",
			Actual: approach(20, s.bedTarget, elapsed, 180) + jitter(0.3),
			Target: s.bedTarget,
		},
	}, nil
}

// approach models an exponential heat-up from ambient toward target with
// the given time constant in seconds.
func approach(ambient, target, elapsed, tau float64) float64 {
	return target - (target-ambient)*math.Exp(-elapsed/tau)
}

func jitter(amplitude float64) float64 {
	return (rand.Float64()*2 - 1) * amplitude
}
