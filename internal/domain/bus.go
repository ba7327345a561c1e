package domain

import (
	"context"
)

// EventBus carries run requests and run outcomes between the API and the
// async worker. Every message is scoped to a tenant.
type EventBus interface {
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe delivers topic messages for one tenant until the
	// subscription is cancelled.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// SubscribeAll delivers topic messages of every tenant. Message.TenantID
	// carries the publishing tenant.
	SubscribeAll(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

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
	Type string `json:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl"`
	NATSToken         string `json:"-"`
	NATSMaxReconnects int    `json:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait"` // seconds

	// NATSQueueGroup, when set, load-balances each subscription across
	// replicas so a run request is executed once.
	NATSQueueGroup string `json:"natsQueueGroup"`
}

// Standard topic names for the run pipeline.
const (
	TopicRunRequested = "liquidity.run.requested"
	TopicRunCompleted = "liquidity.run.completed"
	TopicRunFailed    = "liquidity.run.failed"
)

// RunRequestedMessage is the payload published on TopicRunRequested.
type RunRequestedMessage struct {
	TenantID      string    `json:"tenantId"`
	SubmissionID  string    `json:"submissionId"`
	ReportingDate string    `json:"reportingDate"`
	Ratio         RatioType `json:"ratio"`
	TraceID       string    `json:"traceId,omitempty"`
}

// RunCompletedMessage is the payload published once a run is persisted.
type RunCompletedMessage struct {
	RunID         string    `json:"runId"`
	TenantID      string    `json:"tenantId"`
	SubmissionID  string    `json:"submissionId"`
	ReportingDate string    `json:"reportingDate"`
	Ratio         RatioType `json:"ratio"`
	Status        Status    `json:"status"`
	RatioValue    *float64  `json:"ratioValue"`
	ReasonCode    string    `json:"reasonCode,omitempty"`
}

// RunFailedMessage is published when a requested run could not be executed
// and nothing was persisted.
type RunFailedMessage struct {
	TenantID      string    `json:"tenantId"`
	SubmissionID  string    `json:"submissionId"`
	ReportingDate string    `json:"reportingDate"`
	Ratio         RatioType `json:"ratio"`
	Error         string    `json:"error"`
}
