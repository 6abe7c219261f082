// Package telemetry polls a temperature source and pushes the readings to
// registered push sessions, driving the steady-state "current" heartbeat.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/printdeck/server/internal/machine"
)

// Listener is the push-session surface the sampler writes into. Appends go
// to the listener's temperature backlog; SendCurrentData flushes everything
// accumulated since the previous call into one frame.
type Listener interface {
	AddTemperature(sample machine.TemperatureSample)
	SendCurrentData(extra map[string]any)
	SendHistoryData(data map[string]any)
}

// Sampler owns the telemetry poll loop. Each tick it reads the source,
// appends the samples to every registered listener, and triggers one
// coalescing flush per listener with the machine status merged in.
type Sampler struct {
	src         Source
	interval    time.Duration
	historySize int
	status      func() map[string]any

	mu        sync.Mutex
	listeners map[Listener]struct{}
	history   []machine.TemperatureSample
}

func NewSampler(src Source, interval time.Duration, historySize int, status func() map[string]any) *Sampler {
	if historySize <= 0 {
		historySize = 300
	}
	if status == nil {
		status = func() map[string]any { return nil }
	}
	return &Sampler{
		src:         src,
		interval:    interval,
		historySize: historySize,
		status:      status,
		listeners:   make(map[Listener]struct{}),
	}
}

// RegisterListener attaches l to the sampler and immediately sends it the
// buffered temperature history so a new client can render a graph without
// waiting for samples to accumulate. Registering the same listener twice is
// a caller error.
func (s *Sampler) RegisterListener(l Listener) error {
	s.mu.Lock()
	if _, dup := s.listeners[l]; dup {
		s.mu.Unlock()
		return fmt.Errorf("telemetry: listener already registered")
	}
	s.listeners[l] = struct{}{}
	history := make([]machine.TemperatureSample, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	// History push happens outside the lock; the listener may do its own
	// locking and channel work.
	l.SendHistoryData(map[string]any{"temperatures": history})
	return nil
}

// UnregisterListener detaches l. Unregistering a listener that is not
// registered is a caller error.
func (s *Sampler) UnregisterListener(l Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[l]; !ok {
		return fmt.Errorf("telemetry: listener not registered")
	}
	delete(s.listeners, l)
	return nil
}

// Run polls until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("Telemetry sampler started (source=%s, interval=%s)", s.src.Name(), s.interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("Telemetry sampler stopped")
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Sampler) poll() {
	samples, err := s.src.Sample()
	if err != nil {
		// Keep heartbeating with whatever we have; clients still need
		// state updates when the sensor read fails.
		log.Printf("[%s] sample error: %v", s.src.Name(), err)
	}

	s.mu.Lock()
	s.history = append(s.history, samples...)
	if over := len(s.history) - s.historySize; over > 0 {
		s.history = append([]machine.TemperatureSample(nil), s.history[over:]...)
	}
	listeners := make([]Listener, 0, len(s.listeners))
	for l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	extra := s.status()
	for _, l := range listeners {
		for _, sample := range samples {
			l.AddTemperature(sample)
		}
		l.SendCurrentData(extra)
	}
}

// History returns a copy of the buffered samples.
func (s *Sampler) History() []machine.TemperatureSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]machine.TemperatureSample, len(s.history))
	copy(out, s.history)
	return out
}
