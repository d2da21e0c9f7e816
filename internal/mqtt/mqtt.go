// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kernelmethod/rpi-watering/internal/schedule"
)

// Topic is the MQTT topic for watering events.
const Topic = "home/garden/waterer/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "home/garden/waterer/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a watering event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event schedule.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT", or an error (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Watering WateringPayload `json:"watering"`
}

// WateringPayload contains the watering event details.
type WateringPayload struct {
	Timestamp       string  `json:"timestamp"`
	Event           string  `json:"event"`
	Relay           string  `json:"relay"`
	Session         string  `json:"session,omitempty"`
	NextSession     string  `json:"next_session,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// FormatPayload creates the JSON payload for a watering event.
func FormatPayload(event schedule.Event) ([]byte, error) {
	p := WateringPayload{
		Timestamp:       event.Timestamp.UTC().Format(time.RFC3339),
		Event:           string(event.Type),
		Relay:           string(event.Relay),
		Session:         event.Session,
		DurationSeconds: event.Duration.Seconds(),
	}
	if !event.NextSession.IsZero() {
		p.NextSession = event.NextSession.UTC().Format(time.RFC3339)
	}
	return json.Marshal(Payload{Watering: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Message is one encoded publication, ready for the wire.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// WateringMessage encodes a watering event for Topic.
func WateringMessage(event schedule.Event) (Message, error) {
	payload, err := FormatPayload(event)
	if err != nil {
		return Message{}, fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: relay transitions should not be lost
	return Message{Topic: Topic, QoS: 1, Payload: payload}, nil
}

// SystemMessage encodes a lifecycle event for TopicSystem.
func SystemMessage(event SystemEvent) (Message, error) {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return Message{}, fmt.Errorf("format system payload: %w", err)
	}
	return Message{Topic: TopicSystem, QoS: 1, Retained: event.Retained, Payload: payload}, nil
}

// Nop returns a Publisher that discards everything. Used when no broker is configured.
func Nop() Publisher {
	return nopPublisher{}
}

type nopPublisher struct{}

func (nopPublisher) Publish(schedule.Event) error     { return nil }
func (nopPublisher) PublishSystem(SystemEvent) error { return nil }
func (nopPublisher) Close() error                    { return nil }
