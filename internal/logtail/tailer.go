// Package logtail follows the device controller's log file and relays new
// lines to registered push sessions.
package logtail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Listener receives tailed log lines into its log backlog.
type Listener interface {
	AddLog(line string)
}

// Tailer polls a log file for appended data and fans complete lines out to
// listeners. Only whole lines are delivered; a partial trailing line stays
// in the file until its newline arrives. Truncation or rotation (file
// shrinking under the tail offset) restarts the tail from the beginning.
type Tailer struct {
	path     string
	interval time.Duration

	mu        sync.Mutex
	listeners map[Listener]struct{}

	offset int64 // poll loop only
}

func NewTailer(path string, interval time.Duration) *Tailer {
	return &Tailer{
		path:      path,
		interval:  interval,
		listeners: make(map[Listener]struct{}),
	}
}

// RegisterListener attaches l. Registering the same listener twice is a
// caller error.
func (t *Tailer) RegisterListener(l Listener) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.listeners[l]; dup {
		return fmt.Errorf("logtail: listener already registered")
	}
	t.listeners[l] = struct{}{}
	return nil
}

// UnregisterListener detaches l. Unregistering an unknown listener is a
// caller error.
func (t *Tailer) UnregisterListener(l Listener) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[l]; !ok {
		return fmt.Errorf("logtail: listener not registered")
	}
	delete(t.listeners, l)
	return nil
}

// Broadcast pushes a single line to every listener. The poll loop uses it
// for tailed lines; other components may inject lines directly.
func (t *Tailer) Broadcast(line string) {
	t.mu.Lock()
	listeners := make([]Listener, 0, len(t.listeners))
	for l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()

	for _, l := range listeners {
		l.AddLog(line)
	}
}

// Run tails the file until ctx is cancelled. The initial offset is the
// current end of file so clients only see lines written after startup.
func (t *Tailer) Run(ctx context.Context) {
	if info, err := os.Stat(t.path); err == nil {
		t.offset = info.Size()
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	log.Printf("Log tailer started on %s", t.path)

	for {
		select {
		case <-ctx.Done():
			log.Println("Log tailer stopped")
			return
		case <-ticker.C:
			lines, err := t.readNew()
			if err != nil {
				log.Printf("logtail: read error on %s: %v", t.path, err)
				continue
			}
			for _, line := range lines {
				t.Broadcast(line)
			}
		}
	}
}

// readNew reads everything appended since the last poll and returns the
// complete lines. The offset only advances past data that ended in a
// newline.
func (t *Tailer) readNew() ([]string, error) {
	info, err := os.Stat(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.offset = 0
			return nil, nil
		}
		return nil, err
	}
	if info.Size() < t.offset {
		// Truncated or rotated in place.
		t.offset = 0
	}
	if info.Size() == t.offset {
		return nil, nil
	}

	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	lastNL := bytes.LastIndexByte(data, '\n')
	if lastNL < 0 {
		return nil, nil
	}
	consumed := data[:lastNL+1]
	t.offset += int64(len(consumed))

	raw := bytes.Split(bytes.TrimSuffix(consumed, []byte("\n")), []byte("\n"))
	lines := make([]string, 0, len(raw))
	for _, b := range raw {
		lines = append(lines, string(bytes.TrimSuffix(b, []byte("\r"))))
	}
	return lines, nil
}
