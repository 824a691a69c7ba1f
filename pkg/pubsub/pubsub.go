package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Topics published by the session
const (
	TopicStatus   = "status"   // session lifecycle and reloads
	TopicNodes    = "nodes"    // node set after every mutation
	TopicAnalysis = "analysis" // analysis summary after every recomputation
)

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "analysis", "nodes")
	Type    string          `json:"type"`    // Event type (e.g., "node_added", "recomputed")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
	Time    time.Time       `json:"time"`
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

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// Status describes the session state
type Status struct {
	State   string `json:"state"`   // loading, ready, reloading, error
	Message string `json:"message"` // Human-readable status message
}

// AnalysisSummary is the compact payload of an analysis event
type AnalysisSummary struct {
	Nodes        int     `json:"nodes"`
	Boundaries   int     `json:"boundaries"`
	Parcels      int     `json:"parcels"`
	Clusters     int     `json:"clusters"`
	Warnings     int     `json:"warnings"`
	TotalDensity float64 `json:"totalDensity"`
	Dispersion   float64 `json:"dispersionKm"`
	DurationMs   int64   `json:"durationMs"`
}
