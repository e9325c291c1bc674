// Package chat holds the appointment chat domain: the message model, the
// store contract and the service that gates, persists and fans out messages.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"clinic-chat/internal/constants"
)

// Role 參與者角色.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Valid 檢查角色是否有效.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// Counterpart 回傳對方角色.
func (r Role) Counterpart() Role {
	if r == RolePatient {
		return RoleDoctor
	}
	return RolePatient
}

// ParseRole 解析角色字串.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("無效的角色: %q", s)
	}
	return r, nil
}

// Kind 訊息種類.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// Principal 已認證的操作者.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// InboxRoom 回傳操作者的收件匣房間名稱.
func (p Principal) InboxRoom() string {
	return InboxRoom(p.Role, p.ID)
}

// AppointmentRoom 回傳預約房間名稱.
func AppointmentRoom(appointmentID string) string {
	return "appointment-" + appointmentID
}

// InboxRoom 回傳 {role}-{principalId} 房間名稱.
func InboxRoom(role Role, principalID string) string {
	return string(role) + "-" + principalID
}

// Attachment 附件元數據（kind 非 text 時存在）.
type Attachment struct {
	URL          string `json:"url" bson:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty" bson:"thumbnail_url,omitempty"`
	MimeType     string `json:"mimeType,omitempty" bson:"mime_type,omitempty"`
	Size         int64  `json:"size,omitempty" bson:"size,omitempty"`
	Filename     string `json:"filename,omitempty" bson:"filename,omitempty"`
}

// Message 預約聊天訊息.
type Message struct {
	ID                  string      `json:"id"`
	AppointmentID       string      `json:"appointmentId"`
	SenderID            string      `json:"senderId"`
	SenderRole          Role        `json:"senderRole"`
	Kind                Kind        `json:"kind"`
	Body                string      `json:"body"`
	Attachment          *Attachment `json:"attachment,omitempty"`
	ClientCorrelationID string      `json:"clientCorrelationId,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	Read                bool        `json:"read"`
	ReadAt              *time.Time  `json:"readAt,omitempty"`
}

// Clone 回傳深拷貝.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	return &c
}

var (
	// ErrInvalidMessage 訊息內容不符合其種類的要求.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidCursor 分頁游標無法解析.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrMessageNotFound 訊息不存在.
	ErrMessageNotFound = errors.New("message not found")
	// ErrCorrelationConflict 同一發送者在另一個預約用過相同的 correlation ID.
	ErrCorrelationConflict = fmt.Errorf("%w: correlation id already used in another appointment", ErrInvalidMessage)
)

// Validate 依訊息種類驗證必要欄位.
func (m *Message) Validate(maxBodyLength int) error {
	if maxBodyLength <= 0 {
		maxBodyLength = constants.DefaultMaxMessageLength
	}
	if strings.TrimSpace(m.AppointmentID) == "" {
		return fmt.Errorf("%w: appointmentId is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.SenderID) == "" || !m.SenderRole.Valid() {
		return fmt.Errorf("%w: sender is required", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(m.Body) > maxBodyLength {
		return fmt.Errorf("%w: body exceeds %d characters", ErrInvalidMessage, maxBodyLength)
	}
	if strings.Contains(m.Body, "\x00") {
		return fmt.Errorf("%w: body contains illegal characters", ErrInvalidMessage)
	}
	if len(m.ClientCorrelationID) > constants.MaxCorrelationIDLength {
		return fmt.Errorf("%w: clientCorrelationId too long", ErrInvalidMessage)
	}

	switch m.Kind {
	case KindText:
		if strings.TrimSpace(m.Body) == "" {
			return fmt.Errorf("%w: text message body cannot be empty", ErrInvalidMessage)
		}
		if m.Attachment != nil {
			return fmt.Errorf("%w: text message cannot carry an attachment", ErrInvalidMessage)
		}
	case KindImage, KindFile:
		if m.Attachment == nil || strings.TrimSpace(m.Attachment.URL) == "" {
			return fmt.Errorf("%w: %s message requires an attachment url", ErrInvalidMessage, m.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// Cursor 分頁游標，指向頁面中最舊的訊息.
type Cursor struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
}

// Before 分頁起點；Time 為零值表示從最新開始.
// 只有 Time 時取嚴格早於該時間的訊息；同時有 ID 時以 (時間, ID) 作為鍵集邊界.
type Before struct {
	Time time.Time
	ID   string
}

// IsZero 是否未指定起點.
func (b Before) IsZero() bool {
	return b.Time.IsZero()
}

// OlderThan 判斷訊息是否嚴格早於起點.
func (b Before) OlderThan(m *Message) bool {
	if b.IsZero() {
		return true
	}
	if m.CreatedAt.Before(b.Time) {
		return true
	}
	return b.ID != "" && m.CreatedAt.Equal(b.Time) && m.ID < b.ID
}

// PageQuery 分頁查詢參數.
type PageQuery struct {
	Limit  int
	Before Before
}

// ClampLimit 將 limit 限制在 [1, max]，0 或負數取預設值.
func ClampLimit(limit, def, max int) int {
	if def <= 0 {
		def = constants.DefaultPageSize
	}
	if max <= 0 {
		max = constants.MaxPageSize
	}
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

// Page 分頁結果，訊息依 (createdAt desc, id desc) 排序.
type Page struct {
	Messages []*Message `json:"messages"`
	Cursor   *Cursor    `json:"cursor"`
	HasMore  bool       `json:"hasMore"`
	Limit    int        `json:"limit"`
}

// NewPage 由多取一筆的查詢結果組成分頁.
func NewPage(fetched []*Message, limit int) *Page {
	page := &Page{Limit: limit, Messages: fetched}
	if len(fetched) > limit {
		page.HasMore = true
		page.Messages = fetched[:limit]
	}
	if page.Messages == nil {
		page.Messages = []*Message{}
	}
	if n := len(page.Messages); n > 0 {
		oldest := page.Messages[n-1]
		page.Cursor = &Cursor{Timestamp: oldest.CreatedAt, ID: oldest.ID}
	}
	return page
}

// Preview 產生收件匣顯示的訊息摘要.
func Preview(m *Message) string {
	if m == nil {
		return ""
	}
	switch m.Kind {
	case KindImage:
		return "[Image]"
	case KindFile:
		if m.Attachment != nil && m.Attachment.Filename != "" {
			return "[File] " + m.Attachment.Filename
		}
		return "[File]"
	}
	body := strings.TrimSpace(m.Body)
	if utf8.RuneCountInString(body) <= constants.PreviewMaxRunes {
		return body
	}
	runes := []rune(body)
	return string(runes[:constants.PreviewMaxRunes]) + "…"
}
