// Package mock drives the server with a scripted machine so the push
// pipeline can be exercised without hardware: it walks the status tracker
// through print jobs, feeds device log lines and broker messages into the
// producers, and fires the slicing and recording events a real machine
// would.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/printdeck/server/internal/bus"
	"github.com/printdeck/server/internal/logtail"
	"github.com/printdeck/server/internal/machine"
	"github.com/printdeck/server/internal/relay"
	"github.com/printdeck/server/internal/timelapse"
)

var jobFiles = []string{
	"benchy.gcode",
	"bracket_v3.gcode",
	"enclosure_lid.gcode",
	"calibration_cube.gcode",
}

var logTemplates = []string{
	"Recv: ok T:%.1f /205.0 B:59.8 /60.0",
	"Send: N%d G1 X12.4 Y33.1 E0.8",
	"Recv: echo:busy: processing",
	"Recv: ok",
}

// Job phases, in tick units on the 500ms simulator clock.
const (
	idleTicks    = 8
	slicingTicks = 12
	printTicks   = 90
)

type Simulator struct {
	status   *machine.StatusTracker
	tailer   *logtail.Tailer
	relay    *relay.Relay
	recorder *timelapse.Recorder
	bus      *bus.Bus

	tick    int
	jobIdx  int
	lineNum int
}

func NewSimulator(status *machine.StatusTracker, tailer *logtail.Tailer, rel *relay.Relay, recorder *timelapse.Recorder, b *bus.Bus) *Simulator {
	return &Simulator{
		status:   status,
		tailer:   tailer,
		relay:    rel,
		recorder: recorder,
		bus:      b,
	}
}

func (s *Simulator) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Simulator) run(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.advance()
		}
	}
}

// advance moves the scripted machine one step through its cycle:
// idle -> slicing -> printing -> done, then the next job file.
func (s *Simulator) advance() {
	s.tick++
	file := jobFiles[s.jobIdx%len(jobFiles)]

	phase := s.tick % (idleTicks + slicingTicks + printTicks)
	switch {
	case phase < idleTicks:
		s.status.SetState("Operational")
		s.status.SetJob("", 0)

	case phase < idleTicks+slicingTicks:
		if phase == idleTicks {
			s.bus.Publish(bus.TopicSlicingStarted, map[string]any{"file": file})
		}
		s.status.SetState("Slicing")
		if phase == idleTicks+slicingTicks-1 {
			s.bus.Publish(bus.TopicSlicingFinished, map[string]any{"file": file})
		}

	default:
		printed := phase - idleTicks - slicingTicks
		progress := float64(printed) / float64(printTicks-1)
		s.status.SetState("Printing")
		s.status.SetJob(file, progress)
		s.emitLogLines()

		if printed == printTicks-1 {
			s.finishJob(file)
		}
	}

	// Broker chatter arrives independently of the job cycle.
	if s.tick%13 == 0 {
		s.relay.Broadcast(fmt.Sprintf("spool weight %dg remaining", 950-s.tick%900))
	}
}

func (s *Simulator) emitLogLines() {
	n := 1 + rand.Intn(2)
	for i := 0; i < n; i++ {
		s.lineNum++
		tmpl := logTemplates[rand.Intn(len(logTemplates))]
		switch tmpl {
		case logTemplates[0]:
			s.tailer.Broadcast(fmt.Sprintf(tmpl, 195.0+rand.Float64()*12))
		case logTemplates[1]:
			s.tailer.Broadcast(fmt.Sprintf(tmpl, s.lineNum))
		default:
			s.tailer.Broadcast(tmpl)
		}
	}
}

func (s *Simulator) finishJob(file string) {
	s.status.SetJob(file, 1)
	if s.recorder.Current().Type != "off" {
		s.recorder.FinishRecording(fmt.Sprintf("%s_%s.mpg", file, time.Now().Format("20060102150405")))
	}
	s.jobIdx++
}
