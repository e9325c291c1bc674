package chat

import (
	"context"
	"errors"
	"time"

	"clinic-chat/internal/directory"
)

// ErrUnauthorized 操作者不是預約的參與者，或預約不存在.
var ErrUnauthorized = errors.New("unauthorized")

// Store 訊息存儲.
type Store interface {
	// Append 寫入訊息；(senderId, correlationId) 已存在時回傳既有訊息且 created 為 false.
	Append(ctx context.Context, m *Message) (stored *Message, created bool, err error)
	// Page 依 (createdAt desc, id desc) 回傳一頁訊息.
	Page(ctx context.Context, appointmentID string, q PageQuery) (*Page, error)
	MessageByID(ctx context.Context, id string) (*Message, error)
	// MarkRead 將對方角色的未讀訊息標記為已讀，回傳變更筆數.
	MarkRead(ctx context.Context, appointmentID string, reader Role, at time.Time) (int64, error)
	UnreadCount(ctx context.Context, appointmentIDs []string, viewer Role) (int64, error)
	UnreadByAppointment(ctx context.Context, appointmentIDs []string, viewer Role) (map[string]int64, error)
	// LastMessage 回傳最新一則訊息，沒有訊息時回傳 nil.
	LastMessage(ctx context.Context, appointmentID string) (*Message, error)
}

// Participant 通過授權的參與者.
type Participant struct {
	Principal   Principal
	Counterpart Principal
	Appointment *directory.Appointment
}

// AppointmentID 回傳預約 ID.
func (p *Participant) AppointmentID() string {
	return p.Appointment.ID
}

// InboxRooms 回傳雙方的收件匣房間.
func (p *Participant) InboxRooms() []string {
	return []string{p.Principal.InboxRoom(), p.Counterpart.InboxRoom()}
}

// Gate 頻道授權.
type Gate interface {
	Authorize(ctx context.Context, appointmentID string, p Principal) (*Participant, error)
}

// 即時事件名稱.
const (
	EventReceiveMessage = "receive-message"
	EventMessagesRead   = "messages-read"
	EventInboxUpdate    = "inbox-update"
)

// MessagesReadPayload messages-read 事件內容.
type MessagesReadPayload struct {
	AppointmentID string    `json:"appointmentId"`
	By            Role      `json:"by"`
	ReadAt        time.Time `json:"readAt"`
}

// InboxUpdatePayload inbox-update 事件內容.
type InboxUpdatePayload struct {
	AppointmentID string `json:"appointmentId"`
}

// Notifier 將事件送往房間；由即時中心實作.
type Notifier interface {
	Emit(ctx context.Context, room, event string, payload interface{})
}

// BodyCodec 訊息內容的靜態加解密.
type BodyCodec interface {
	Seal(appointmentID, body string) (string, error)
	Open(appointmentID, stored string) (string, error)
}

// Auditor 審計記錄.
type Auditor interface {
	LogMessageSent(ctx context.Context, principalID, appointmentID, messageID string, kind Kind)
	LogMessagesRead(ctx context.Context, principalID, appointmentID string, count int64)
	LogAccessDenied(ctx context.Context, principalID, appointmentID, action string)
}

// InboxObserver 在預約的收件匣資料變動時被通知.
type InboxObserver interface {
	InboxUpdated(ctx context.Context, appointmentID string)
}

type nopNotifier struct{}

func (nopNotifier) Emit(context.Context, string, string, interface{}) {}

type nopCodec struct{}

func (nopCodec) Seal(_, body string) (string, error)   { return body, nil }
func (nopCodec) Open(_, stored string) (string, error) { return stored, nil }

type nopAuditor struct{}

func (nopAuditor) LogMessageSent(context.Context, string, string, string, Kind) {}
func (nopAuditor) LogMessagesRead(context.Context, string, string, int64)       {}
func (nopAuditor) LogAccessDenied(context.Context, string, string, string)      {}
