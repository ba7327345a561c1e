// Package bus provides event bus implementations for run requests and run
// outcomes.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/liquidity/internal/domain"
)

var (
	// ErrTenantRequired is returned when a publish or subscribe has no tenant.
	ErrTenantRequired = errors.New("tenantID is required")

	// ErrClosed is returned once the bus has been closed.
	ErrClosed = errors.New("event bus is closed")

	// ErrBufferFull is returned when a subscriber could not take a message.
	ErrBufferFull = errors.New("subscriber buffer full")
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// allTenants is the tenant token matching every tenant; it is also the NATS
// single-token wildcard.
const allTenants = "*"

func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{"content_type": "application/json"},
		Timestamp: time.Now().UnixNano(),
	}
}

// PublishJSON marshals v and publishes it to topic.
func PublishJSON(ctx context.Context, bus domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	return bus.Publish(ctx, tenantID, topic, payload)
}

// DecodePayload unmarshals a message payload into v.
func DecodePayload(msg *domain.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s message %s: %w", msg.Topic, msg.ID, err)
	}
	return nil
}
