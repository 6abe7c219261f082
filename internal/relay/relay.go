// Package relay forwards raw device messages to registered push sessions.
// When a broker is configured it consumes the machine controller's MQTT
// message stream; in-process components can inject messages directly via
// Broadcast.
package relay

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Listener receives relayed device messages into its message backlog.
type Listener interface {
	AddMessage(msg string)
}

// Relay fans device messages out to listeners. All listener pushes happen
// outside the registry lock.
type Relay struct {
	broker   string
	topic    string
	clientID string
	qos      byte

	mu        sync.Mutex
	listeners map[Listener]struct{}
	client    mqtt.Client
}

func New(broker, topic, clientID string) *Relay {
	if clientID == "" {
		clientID = "printdeck-relay"
	}
	return &Relay{
		broker:    broker,
		topic:     topic,
		clientID:  clientID,
		qos:       1,
		listeners: make(map[Listener]struct{}),
	}
}

// RegisterListener attaches l. Registering the same listener twice is a
// caller error.
func (r *Relay) RegisterListener(l Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.listeners[l]; dup {
		return fmt.Errorf("relay: listener already registered")
	}
	r.listeners[l] = struct{}{}
	return nil
}

// UnregisterListener detaches l. Unregistering an unknown listener is a
// caller error.
func (r *Relay) UnregisterListener(l Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[l]; !ok {
		return fmt.Errorf("relay: listener not registered")
	}
	delete(r.listeners, l)
	return nil
}

// Broadcast pushes one message to every listener.
func (r *Relay) Broadcast(msg string) {
	r.mu.Lock()
	listeners := make([]Listener, 0, len(r.listeners))
	for l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.Unlock()

	for _, l := range listeners {
		l.AddMessage(msg)
	}
}

// Start connects to the configured MQTT broker and subscribes to the device
// message topic. With no broker configured the relay still works for
// in-process broadcasts.
func (r *Relay) Start() error {
	if r.broker == "" {
		log.Println("Message relay: no broker configured, in-process only")
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(r.broker)
	opts.SetClientID(r.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	// Subscribe from the connect handler so the subscription is restored
	// after every reconnect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Printf("Message relay connected to %s", r.broker)
		if token := c.Subscribe(r.topic, r.qos, r.onMessage); token.Wait() && token.Error() != nil {
			log.Printf("Message relay: subscribe %q failed: %v", r.topic, token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("Message relay: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("relay: timeout connecting to mqtt broker")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("relay: connect %s: %w", r.broker, err)
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()
	return nil
}

// Stop disconnects from the broker if connected.
func (r *Relay) Stop() {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
}

func (r *Relay) onMessage(_ mqtt.Client, m mqtt.Message) {
	r.Broadcast(string(m.Payload()))
}
