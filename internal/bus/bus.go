// Package bus provides the shared publish/subscribe system over which server
// components announce lifecycle and job events to push sessions and to each
// other. The topic vocabulary is closed: subscribing to a name outside it is
// a configuration error reported at subscribe time, never at publish time.
package bus

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// Topic names an event channel on the bus.
type Topic string

const (
	TopicClientOpened      Topic = "client_opened"
	TopicClientClosed      Topic = "client_closed"
	TopicRecordingFinished Topic = "recording_finished"
	TopicSlicingStarted    Topic = "slicing_started"
	TopicSlicingFinished   Topic = "slicing_finished"
	TopicSlicingFailed     Topic = "slicing_failed"
)

// Topics lists the full closed vocabulary.
var Topics = []Topic{
	TopicClientOpened,
	TopicClientClosed,
	TopicRecordingFinished,
	TopicSlicingStarted,
	TopicSlicingFinished,
	TopicSlicingFailed,
}

// ErrUnknownTopic is returned by Subscribe for names outside the vocabulary.
var ErrUnknownTopic = errors.New("bus: unknown topic")

// Handler receives every event published on a subscribed topic. Handlers are
// invoked synchronously on the publisher's goroutine and must not block.
type Handler func(topic Topic, payload any)

// Bus fans events out to per-topic subscriber sets. Each topic carries its
// own lock so one session's subscribe/unsubscribe churn never blocks event
// delivery on another topic.
type Bus struct {
	topics map[Topic]*subscriberSet // fixed at construction, read-only after
	nextID atomic.Uint64
}

type subscriberSet struct {
	mu       sync.RWMutex
	handlers map[uint64]Handler
}

func New() *Bus {
	b := &Bus{topics: make(map[Topic]*subscriberSet, len(Topics))}
	for _, t := range Topics {
		b.topics[t] = &subscriberSet{handlers: make(map[uint64]Handler)}
	}
	return b
}

// Subscribe registers handler for all events published on topic until the
// returned Subscription is cancelled.
func (b *Bus) Subscribe(topic Topic, handler Handler) (*Subscription, error) {
	set, ok := b.topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}

	id := b.nextID.Add(1)
	set.mu.Lock()
	set.handlers[id] = handler
	set.mu.Unlock()

	return &Subscription{set: set, topic: topic, id: id}, nil
}

// Publish delivers payload to every handler subscribed to topic. Handlers
// are snapshotted under the topic lock and invoked outside it, so a handler
// may subscribe or cancel without deadlocking.
func (b *Bus) Publish(topic Topic, payload any) {
	set, ok := b.topics[topic]
	if !ok {
		log.Printf("bus: dropping publish on unknown topic %q", topic)
		return
	}

	set.mu.RLock()
	handlers := make([]Handler, 0, len(set.handlers))
	for _, h := range set.handlers {
		handlers = append(handlers, h)
	}
	set.mu.RUnlock()

	for _, h := range handlers {
		h(topic, payload)
	}
}

// Subscription is one (topic, handler) registration.
type Subscription struct {
	set   *subscriberSet
	topic Topic
	id    uint64
}

func (s *Subscription) Topic() Topic {
	return s.topic
}

// Cancel removes the registration. Cancelling twice, or concurrently from
// multiple goroutines, is a no-op after the first removal.
func (s *Subscription) Cancel() {
	s.set.mu.Lock()
	delete(s.set.handlers, s.id)
	s.set.mu.Unlock()
}
