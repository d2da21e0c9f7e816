package mqtt

import (
	"sync"

	"github.com/kernelmethod/rpi-watering/internal/schedule"
)

// FakePublisher encodes events exactly as RealPublisher does and keeps the
// resulting messages instead of sending them. Safe for concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	// Events and SystemEvents are the values handed to Publish and PublishSystem.
	Events       []schedule.Event
	SystemEvents []SystemEvent

	// Sent holds every encoded message in publish order, both topics interleaved.
	Sent []Message

	// PublishError and PublishSystemError, if set, fail the matching call
	// before anything is recorded.
	PublishError       error
	PublishSystemError error

	Closed    bool
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the watering event and its encoded message.
func (f *FakePublisher) Publish(event schedule.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	m, err := WateringMessage(event)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, event)
	f.Sent = append(f.Sent, m)
	return nil
}

// PublishSystem records the lifecycle event and its encoded message.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	m, err := SystemMessage(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.Sent = append(f.Sent, m)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports the Connected field.
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Payloads returns the payloads sent to topic, in order.
func (f *FakePublisher) Payloads(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, m := range f.Sent {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// EventTypes returns the types of recorded watering events, in order.
func (f *FakePublisher) EventTypes() []schedule.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schedule.EventType, len(f.Events))
	for i, e := range f.Events {
		out[i] = e.Type
	}
	return out
}

// Sessions returns the distinct session ids seen, in first-seen order.
func (f *FakePublisher) Sessions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	seen := make(map[string]bool)
	for _, e := range f.Events {
		if e.Session == "" || seen[e.Session] {
			continue
		}
		seen[e.Session] = true
		out = append(out, e.Session)
	}
	return out
}

// Reset clears recorded messages and injected failures.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = nil
	f.SystemEvents = nil
	f.Sent = nil
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Closed = false
	f.Connected = false
}
