// Package push implements the per-connection session that fans machine
// telemetry out to one remote client. Producers append records into the
// session's backlog buffers from their own goroutines; the flush path
// drains all of them and coalesces everything accumulated since the last
// flush into a single outbound frame.
package push

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/printdeck/server/internal/backlog"
	"github.com/printdeck/server/internal/bus"
	"github.com/printdeck/server/internal/logtail"
	"github.com/printdeck/server/internal/machine"
	"github.com/printdeck/server/internal/relay"
	"github.com/printdeck/server/internal/telemetry"
	"github.com/printdeck/server/internal/timelapse"
)

// Session states. A session is created on upgrade, opened once, and closed
// exactly once; closed is terminal.
const (
	stateCreated int32 = iota
	stateOpen
	stateClosing
	stateClosed
)

// TemperatureProducer is the telemetry sampler's registration surface.
type TemperatureProducer interface {
	RegisterListener(telemetry.Listener) error
	UnregisterListener(telemetry.Listener) error
}

// LogProducer is the log tailer's registration surface.
type LogProducer interface {
	RegisterListener(logtail.Listener) error
	UnregisterListener(logtail.Listener) error
}

// MessageProducer is the device-message relay's registration surface.
type MessageProducer interface {
	RegisterListener(relay.Listener) error
	UnregisterListener(relay.Listener) error
}

// Recorder is the recording subsystem's registration surface plus the
// current-config read used for the immediate push on open.
type Recorder interface {
	RegisterListener(timelapse.Listener) error
	UnregisterListener(timelapse.Listener) error
	Current() timelapse.Config
}

// Producers groups the upstream components a session attaches to on open
// and detaches from on close.
type Producers struct {
	Telemetry TemperatureProducer
	Log       LogProducer
	Messages  MessageProducer
	Recorder  Recorder
}

// ConnectionInfo carries transport details into Open.
type ConnectionInfo struct {
	RemoteAddr string
	Header     http.Header
}

// remoteAddress prefers the first X-Forwarded-For hop so sessions behind a
// reverse proxy log the real client.
func (info ConnectionInfo) remoteAddress() string {
	if info.Header != nil {
		if fwd := info.Header.Get("X-Forwarded-For"); fwd != "" {
			return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		}
	}
	return info.RemoteAddr
}

// topicTriggers maps bus events to the updateTrigger frames a session emits
// for them. Recording completion triggers a file-list refresh and carries
// no payload of its own.
var topicTriggers = []struct {
	topic       bus.Topic
	trigger     string
	withPayload bool
}{
	{bus.TopicRecordingFinished, "timelapseFiles", false},
	{bus.TopicSlicingStarted, "slicingStarted", true},
	{bus.TopicSlicingFinished, "slicingFinished", true},
	{bus.TopicSlicingFailed, "slicingFailed", true},
}

// Session is one live connection to a remote client receiving push frames.
// It owns its three backlog buffers exclusively; producers and the bus hold
// observer references into it, which Close removes before the session is
// released.
type Session struct {
	id         string
	remoteAddr string

	cl        *client
	bus       *bus.Bus
	producers Producers

	temperatures *backlog.Buffer[machine.TemperatureSample]
	logs         *backlog.Buffer[string]
	messages     *backlog.Buffer[string]

	mu   sync.Mutex // guards subs
	subs []*bus.Subscription

	state atomic.Int32
}

func NewSession(conn Conn, b *bus.Bus, producers Producers) *Session {
	return &Session{
		id:           uuid.NewString(),
		cl:           newClient(conn),
		bus:          b,
		producers:    producers,
		temperatures: backlog.New[machine.TemperatureSample](),
		logs:         backlog.New[string](),
		messages:     backlog.New[string](),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Open attaches the session to every producer and bus topic, pushes the
// current timelapse configuration, and announces the new client on the bus.
// Open may be called once.
func (s *Session) Open(info ConnectionInfo) {
	if !s.state.CompareAndSwap(stateCreated, stateOpen) {
		log.Printf("push: session %s opened twice", s.id)
		return
	}
	s.remoteAddr = info.remoteAddress()
	log.Printf("New client connection from %s (session %s)", s.remoteAddr, s.id)

	// Registration failures are programmer errors (double register); log
	// loudly and keep the session serving whatever did attach.
	if err := s.producers.Telemetry.RegisterListener(s); err != nil {
		log.Printf("push: session %s: %v", s.id, err)
	}
	if err := s.producers.Log.RegisterListener(s); err != nil {
		log.Printf("push: session %s: %v", s.id, err)
	}
	if err := s.producers.Messages.RegisterListener(s); err != nil {
		log.Printf("push: session %s: %v", s.id, err)
	}
	if err := s.producers.Recorder.RegisterListener(s); err != nil {
		log.Printf("push: session %s: %v", s.id, err)
	}

	for _, tt := range topicTriggers {
		trigger, withPayload := tt.trigger, tt.withPayload
		sub, err := s.bus.Subscribe(tt.topic, func(_ bus.Topic, payload any) {
			if !withPayload {
				payload = nil
			}
			s.SendUpdateTrigger(trigger, payload)
		})
		if err != nil {
			log.Printf("push: session %s: subscribe %s: %v", s.id, tt.topic, err)
			continue
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}

	s.SendTimelapseConfig(s.producers.Recorder.Current())

	s.bus.Publish(bus.TopicClientOpened, map[string]any{"remoteAddress": s.remoteAddr})
}

// Close detaches the session from every producer and bus topic and stops
// the write pump. It runs exactly once no matter how many goroutines race
// into it; individual teardown failures are logged and the remaining steps
// still run, so no producer is left holding a reference to a dead session.
func (s *Session) Close() {
	if s.state.CompareAndSwap(stateCreated, stateClosed) {
		// Never opened: nothing registered, nothing to announce.
		s.cl.close()
		return
	}
	if !s.state.CompareAndSwap(stateOpen, stateClosing) {
		return
	}

	if err := s.producers.Telemetry.UnregisterListener(s); err != nil {
		log.Printf("push: session %s: %v", s.id, err)
	}
	if err := s.producers.Log.UnregisterListener(s); err != nil {
		log.Printf("push: session %s: %v", s.id, err)
	}
	if err := s.producers.Messages.UnregisterListener(s); err != nil {
		log.Printf("push: session %s: %v", s.id, err)
	}
	if err := s.producers.Recorder.UnregisterListener(s); err != nil {
		log.Printf("push: session %s: %v", s.id, err)
	}

	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}

	s.cl.close()
	s.state.Store(stateClosed)

	s.bus.Publish(bus.TopicClientClosed, map[string]any{"remoteAddress": s.remoteAddr})
	log.Printf("Closed client connection %s (session %s)", s.remoteAddr, s.id)
}

// HandleIncoming accepts a raw client message. No inbound protocol is
// defined; data is read only to detect disconnects.
func (s *Session) HandleIncoming([]byte) {}

func (s *Session) closingOrClosed() bool {
	return s.state.Load() >= stateClosing
}

// AddTemperature buffers one temperature sample for the next flush. Pushes
// racing with Close are dropped, never faulted.
func (s *Session) AddTemperature(sample machine.TemperatureSample) {
	if s.closingOrClosed() {
		return
	}
	s.temperatures.Append(sample)
}

// AddLog buffers one device log line for the next flush.
func (s *Session) AddLog(line string) {
	if s.closingOrClosed() {
		return
	}
	s.logs.Append(line)
}

// AddMessage buffers one raw device message for the next flush.
func (s *Session) AddMessage(msg string) {
	if s.closingOrClosed() {
		return
	}
	s.messages.Append(msg)
}

// SendCurrentData drains all three backlog buffers and writes them together
// with extra's entries as one "current" frame. This is the steady-state
// heartbeat: everything accumulated since the previous call goes out in a
// single network write. The drains are O(1) swaps; nothing is marshalled or
// written while a buffer lock is held.
func (s *Session) SendCurrentData(extra map[string]any) {
	temperatures := s.temperatures.Drain()
	logs := s.logs.Drain()
	messages := s.messages.Drain()

	payload := make(map[string]any, len(extra)+3)
	for k, v := range extra {
		payload[k] = v
	}
	payload["temperatures"] = nonNil(temperatures)
	payload["logs"] = nonNil(logs)
	payload["messages"] = nonNil(messages)

	s.Send(FrameCurrent, payload)
}

// SendHistoryData writes a "history" frame.
func (s *Session) SendHistoryData(data map[string]any) {
	s.Send(FrameHistory, data)
}

// SendUpdateTrigger writes an "updateTrigger" frame naming the event type.
func (s *Session) SendUpdateTrigger(triggerType string, payload any) {
	s.Send(FrameUpdateTrigger, UpdateTriggerPayload{Type: triggerType, Payload: payload})
}

// SendFeedbackCommandOutput writes the output of a named feedback command.
func (s *Session) SendFeedbackCommandOutput(name, output string) {
	s.Send(FrameFeedbackCommandOutput, FeedbackCommandPayload{Name: name, Output: output})
}

// SendTimelapseConfig writes a "timelapse" frame.
func (s *Session) SendTimelapseConfig(cfg timelapse.Config) {
	s.Send(FrameTimelapse, cfg)
}

// Send writes one tagged frame to the connection. Frames for a closing or
// closed session are dropped; so are frames the connection can't keep up
// with. Transport failures never reach the caller.
func (s *Session) Send(frame FrameType, payload any) {
	if s.closingOrClosed() {
		return
	}
	data, err := encodeFrame(frame, payload)
	if err != nil {
		log.Printf("push: session %s: encode %s frame: %v", s.id, frame, err)
		return
	}
	if !s.cl.trySend(data) {
		log.Printf("push: session %s: dropped %s frame (connection slow or closed)", s.id, frame)
	}
}

// nonNil keeps drained-empty buffers encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
