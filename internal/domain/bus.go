package domain

import (
	"context"
)

// EventBus carries compliance lifecycle events between the engine and
// optional consumers (async PDF emitter, downstream notifications).
// Supports Go channels (single node) or NATS (multi-node).
type EventBus interface {
	// Publish sends a message to a topic for a branch.
	Publish(ctx context.Context, branchID string, topic string, payload []byte) error

	// Subscribe registers a handler for a branch/topic pair.
	Subscribe(ctx context.Context, branchID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *EventMessage) error

// EventMessage represents an event message.
type EventMessage struct {
	ID        string            `json:"id"`
	BranchID  string            `json:"branchId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Compliance lifecycle topics.
const (
	TopicReservationCreated = "naga.reservation.created"
	TopicReservationAudited = "naga.reservation.audited"
	TopicReportMaterialized = "naga.report.materialized"
	TopicReportEmitted      = "naga.report.emitted"
)
