// Package realtime is the live transport of the chat: a room hub over
// WebSocket connections that business logic reaches only through
// chat.Notifier.
package realtime

import (
	"encoding/json"
)

// 客戶端送出的事件
const (
	EventJoinAppointment = "join-appointment"
	EventSendMessage     = "send-message"
)

// 伺服器送出的控制事件
const (
	EventAck   = "ack"
	EventError = "error"
)

// Inbound 客戶端訊框
type Inbound struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame 伺服器訊框
type Frame struct {
	Event string      `json:"event"`
	AckID string      `json:"ackId,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// AckData send-message 的確認內容
type AckData struct {
	OK      bool        `json:"ok"`
	Message interface{} `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// JoinData join-appointment 的內容
type JoinData struct {
	AppointmentID string `json:"appointmentId"`
}

func encodeFrame(event, ackID string, data interface{}) ([]byte, error) {
	return json.Marshal(Frame{Event: event, AckID: ackID, Data: data})
}
