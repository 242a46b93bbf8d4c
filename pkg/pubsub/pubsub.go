package pubsub

import (
	"context"
	"encoding/json"
	"errors"
)

// Topics carried by the engine.
const (
	TopicGraphStatus = "graph_status" // rebuild progress
	TopicActivity    = "activity"     // search, filter and selection activity
)

// Graph status event types.
const (
	EventStatus  = "status"
	EventRebuilt = "graph_rebuilt"
	EventFailed  = "rebuild_failed"
)

// ErrClosed is returned when publishing to a closed publisher.
var ErrClosed = errors.New("publisher is closed")

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "graph_status", "activity")
	Type    string          `json:"type"`    // Event type (e.g., "status", "search_activity")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering within a topic
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Sink accepts events. Delivery is best effort.
type Sink interface {
	Publish(topic string, eventType string, data any) error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	Sink

	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// GraphStatus reports rebuild progress.
type GraphStatus struct {
	State   string `json:"state"`   // loading, building, publishing, persisting, ready, failed
	Message string `json:"message"` // Human-readable status message
	Step    int    `json:"step"`    // Current step number (1-based)
	Total   int    `json:"total"`   // Total number of steps
}

// GraphRebuilt describes a freshly published graph.
type GraphRebuilt struct {
	Version    int    `json:"version"`
	Reason     string `json:"reason"`
	Nodes      int    `json:"nodes"`
	Edges      int    `json:"edges"`
	Skipped    int    `json:"skipped"`
	DurationMs int64  `json:"duration_ms"`
}

// newEvent marshals data into an event.
func newEvent(topic, eventType string, data any, version int) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Topic: topic, Type: eventType, Data: raw, Version: version}, nil
}
