package messaging

import (
	"context"
)

// Channel names for domain events published by the scheduling core.
const (
	ChannelInstanceMaterialized = "nudge.instance.materialized"
	ChannelNudgeCompleted       = "nudge.completed"
	ChannelNudgeFinished        = "nudge.finished"
	ChannelLimitsEnforced       = "company.limits.enforced"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Message is the envelope published to a channel.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
