// Package message persists appointment chat messages.
package message

import (
	"time"

	"clinic-chat/internal/chat"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// collectionName 訊息集合名稱.
const collectionName = "messages"

// document 訊息在 MongoDB 中的存儲格式.
type document struct {
	ID                  bson.ObjectID    `bson:"_id"`
	AppointmentID       string           `bson:"appointment_id"`
	SenderID            string           `bson:"sender_id"`
	SenderRole          string           `bson:"sender_role"`
	Kind                string           `bson:"kind"`
	Body                string           `bson:"body"`
	Attachment          *chat.Attachment `bson:"attachment,omitempty"`
	ClientCorrelationID string           `bson:"client_correlation_id,omitempty"`
	CreatedAt           time.Time        `bson:"created_at"`
	Read                bool             `bson:"read"`
	ReadAt              *time.Time       `bson:"read_at,omitempty"`
}

func toDocument(m *chat.Message) *document {
	return &document{
		AppointmentID:       m.AppointmentID,
		SenderID:            m.SenderID,
		SenderRole:          string(m.SenderRole),
		Kind:                string(m.Kind),
		Body:                m.Body,
		Attachment:          m.Attachment,
		ClientCorrelationID: m.ClientCorrelationID,
		CreatedAt:           m.CreatedAt,
		Read:                m.Read,
		ReadAt:              m.ReadAt,
	}
}

func (d *document) toMessage() *chat.Message {
	m := &chat.Message{
		ID:                  d.ID.Hex(),
		AppointmentID:       d.AppointmentID,
		SenderID:            d.SenderID,
		SenderRole:          chat.Role(d.SenderRole),
		Kind:                chat.Kind(d.Kind),
		Body:                d.Body,
		Attachment:          d.Attachment,
		ClientCorrelationID: d.ClientCorrelationID,
		CreatedAt:           d.CreatedAt.UTC(),
		Read:                d.Read,
	}
	if d.ReadAt != nil {
		t := d.ReadAt.UTC()
		m.ReadAt = &t
	}
	return m
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
