package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. tenantID AllTenants
	// receives the topic for every tenant.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AllTenants subscribes to a topic across every tenant.
const AllTenants = "*"

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds

	// NATSQueueGroup, when set, load-balances each subject across the
	// instances that share the group name.
	NATSQueueGroup string `yaml:"natsQueueGroup"`
}

// Topic names for the batch pipeline and case lifecycle.
const (
	TopicPipelineRequested = "kestrel.pipeline.requested"
	TopicPipelineCompleted = "kestrel.pipeline.completed"
	TopicCaseFiled         = "kestrel.case.filed"
	TopicCaseUpdated       = "kestrel.case.updated"
	TopicMetricsComputed   = "kestrel.metrics.computed"
)

// PipelineRequest is the payload of TopicPipelineRequested.
type PipelineRequest struct {
	RunID       string `json:"runId"`
	TenantID    string `json:"tenantId"`
	RequestedBy string `json:"requestedBy,omitempty"`
}
