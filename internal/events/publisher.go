// Package events publishes chat domain events to downstream consumers.
package events

import (
	"context"
	"time"
)

// Type 事件類型.
type Type string

const (
	TypeMessageSent  Type = "message.sent"
	TypeMessagesRead Type = "messages.read"
)

// Event 聊天領域事件.
type Event struct {
	Type          Type        `json:"type"`
	AppointmentID string      `json:"appointmentId"`
	OccurredAt    time.Time   `json:"occurredAt"`
	Payload       interface{} `json:"payload,omitempty"`
}

// Publisher 事件發布者.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop 不發布任何事件.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
