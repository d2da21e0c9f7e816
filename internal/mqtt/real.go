package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kernelmethod/rpi-watering/internal/schedule"
)

// outboxSize bounds how many messages are kept while the broker is unreachable.
const outboxSize = 64

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are queued and replayed on reconnect.
type RealPublisher struct {
	client paho.Client

	mu     sync.Mutex
	outbox *outbox
}

// NewRealPublisher creates a publisher for the given broker. A broker that is
// down at startup is not fatal: the client keeps retrying in the background.
func NewRealPublisher(broker, clientID string) *RealPublisher {
	p := &RealPublisher{
		outbox: newOutbox(outboxSize),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "connection lost"})

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.flush() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, queueing until connected", broker)
	} else if err := token.Error(); err != nil {
		log.Printf("mqtt: connect to %s: %v", broker, err)
	}

	return p
}

// Publish sends a watering event to the MQTT broker.
func (p *RealPublisher) Publish(event schedule.Event) error {
	m, err := WateringMessage(event)
	if err != nil {
		return err
	}
	return p.send(m)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	m, err := SystemMessage(event)
	if err != nil {
		return err
	}
	return p.send(m)
}

func (p *RealPublisher) send(m Message) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.outbox.push(queuedMsg{topic: m.Topic, payload: m.Payload, qos: m.QoS, retained: m.Retained, queuedAt: time.Now()})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(m.Topic, m.QoS, m.Retained, m.Payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s: timeout", m.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.Topic, err)
	}
	return nil
}

// flush replays queued messages. Runs on paho's connect callback.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs := p.outbox.drain()
	p.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	log.Printf("mqtt: connected, replaying %d queued messages (oldest %v old)",
		len(msgs), time.Since(msgs[0].queuedAt).Truncate(time.Second))
	for _, m := range msgs {
		// Do not wait on the token here: this runs inside the client's
		// connect handler.
		p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

// Queued returns the number of messages waiting for a connection.
func (p *RealPublisher) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.len()
}

// IsConnected reports whether the client currently has an open connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
