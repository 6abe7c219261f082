package telemetry

import (
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/printdeck/server/internal/machine"
)

// HostSource reads the local machine's hardware temperature sensors. Used
// when the server runs on the device controller itself and no serial
// telemetry feed is configured.
type HostSource struct{}

func (HostSource) Name() string { return "host" }

func (HostSource) Sample() ([]machine.TemperatureSample, error) {
	stats, err := host.SensorsTemperatures()
	if len(stats) == 0 && err != nil {
		return nil, err
	}
	// gopsutil reports per-sensor warnings through err while still
	// returning the readable sensors; partial data is fine here.

	now := time.Now()
	samples := make([]machine.TemperatureSample, 0, len(stats))
	for _, st := range stats {
		if st.SensorKey == "" {
			continue
		}
		samples = append(samples, machine.TemperatureSample{
			Time:   now,
			Sensor: st.SensorKey,
			Actual: st.Temperature,
		})
	}
	return samples, nil
}
