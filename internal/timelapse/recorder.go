// Package timelapse holds the recording subsystem's client-facing state:
// the active recording configuration, pushed to sessions as an immediate
// frame, and completion announcements published on the event bus.
package timelapse

import (
	"fmt"
	"log"
	"sync"

	"github.com/printdeck/server/internal/bus"
)

// Config describes how recordings are captured. Pushed verbatim to clients
// as the "timelapse" frame payload.
type Config struct {
	Type     string `json:"type" yaml:"type"` // "off", "timed" or "zchange"
	Interval int    `json:"interval,omitempty" yaml:"interval"`
	FPS      int    `json:"fps,omitempty" yaml:"fps"`
	PostRoll int    `json:"postRoll,omitempty" yaml:"post_roll"`
}

// Listener receives configuration pushes as direct frames, bypassing the
// backlog buffers.
type Listener interface {
	SendTimelapseConfig(cfg Config)
}

// Recorder tracks the current configuration and notifies listeners when it
// changes. Finished recordings are announced on the bus so every session
// can refresh its file listing.
type Recorder struct {
	bus *bus.Bus

	mu        sync.Mutex
	cfg       Config
	listeners map[Listener]struct{}
}

func NewRecorder(cfg Config, b *bus.Bus) *Recorder {
	if cfg.Type == "" {
		cfg.Type = "off"
	}
	return &Recorder{
		bus:       b,
		cfg:       cfg,
		listeners: make(map[Listener]struct{}),
	}
}

// RegisterListener attaches l for future configuration pushes. Registering
// the same listener twice is a caller error.
func (r *Recorder) RegisterListener(l Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.listeners[l]; dup {
		return fmt.Errorf("timelapse: listener already registered")
	}
	r.listeners[l] = struct{}{}
	return nil
}

// UnregisterListener detaches l. Unregistering an unknown listener is a
// caller error.
func (r *Recorder) UnregisterListener(l Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[l]; !ok {
		return fmt.Errorf("timelapse: listener not registered")
	}
	delete(r.listeners, l)
	return nil
}

// Current returns the active configuration.
func (r *Recorder) Current() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// SetConfig replaces the configuration and pushes it to every listener.
func (r *Recorder) SetConfig(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	listeners := make([]Listener, 0, len(r.listeners))
	for l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.Unlock()

	log.Printf("Timelapse config changed: type=%s interval=%ds", cfg.Type, cfg.Interval)
	for _, l := range listeners {
		l.SendTimelapseConfig(cfg)
	}
}

// FinishRecording announces a completed recording on the bus.
func (r *Recorder) FinishRecording(movie string) {
	log.Printf("Timelapse recording finished: %s", movie)
	r.bus.Publish(bus.TopicRecordingFinished, map[string]any{"movie": movie})
}
