// Package reconcile merges optimistic sends, acks, live events and history
// pages into one ordered conversation view. It has no transport and no
// clock of its own, so every transition is a pure function of its inputs.
package reconcile

import (
	"time"

	"clinic-chat/internal/chat"

	"github.com/google/uuid"
)

// Status 訊息在畫面上的狀態
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusRead    Status = "read"
	StatusError   Status = "error"
)

// ViewMessage 畫面上的一則訊息；樂觀訊息的 ID 為空
type ViewMessage struct {
	chat.Message
	Status Status `json:"status"`
}

// State 單一預約的對話狀態，Messages 由舊到新
type State struct {
	Viewer   chat.Principal
	Messages []ViewMessage
	Cursor   *chat.Cursor
	HasMore  bool
	Loading  bool
}

// Action 狀態轉換
type Action interface {
	isAction()
}

// Sent 加入樂觀訊息
type Sent struct{ Message ViewMessage }

// AckOK 伺服器確認寫入
type AckOK struct {
	CorrelationID string
	Message       *chat.Message
}

// AckFailed 伺服器拒絕或發送失敗
type AckFailed struct{ CorrelationID string }

// Received 即時收到的訊息，包含自己的回音
type Received struct{ Message *chat.Message }

// ReadReceipt 對方已讀回條
type ReadReceipt struct {
	By     chat.Role
	ReadAt time.Time
}

// LoadStarted 開始載入歷史
type LoadStarted struct{}

// PageLoaded 歷史分頁載入完成
type PageLoaded struct {
	Page    *chat.Page
	Initial bool
}

// Retry 重新發送失敗的訊息
type Retry struct{ CorrelationID string }

func (Sent) isAction()        {}
func (AckOK) isAction()       {}
func (AckFailed) isAction()   {}
func (Received) isAction()    {}
func (ReadReceipt) isAction() {}
func (LoadStarted) isAction() {}
func (PageLoaded) isAction()  {}
func (Retry) isAction()       {}

// NewState 創建空狀態
func NewState(viewer chat.Principal) State {
	return State{Viewer: viewer, HasMore: true}
}

// NewOptimistic 建立待送出的訊息與新的 correlation ID
func NewOptimistic(p chat.Principal, appointmentID, body string, now time.Time) (ViewMessage, string) {
	correlationID := uuid.New().String()
	return ViewMessage{
		Message: chat.Message{
			AppointmentID:       appointmentID,
			SenderID:            p.ID,
			SenderRole:          p.Role,
			Kind:                chat.KindText,
			Body:                body,
			ClientCorrelationID: correlationID,
			CreatedAt:           now,
		},
		Status: StatusSending,
	}, correlationID
}

// CanLoadOlder 是否可以再要求更舊的分頁
func CanLoadOlder(s State) bool {
	return s.HasMore && !s.Loading && (s.Cursor != nil || len(s.Messages) == 0)
}

// Before 下一次歷史請求的 before 參數
func Before(s State) string {
	if s.Cursor == nil {
		return ""
	}
	if s.Cursor.ID != "" {
		return s.Cursor.ID
	}
	return s.Cursor.Timestamp.Format(time.RFC3339Nano)
}

// Apply 回傳套用動作後的新狀態，不修改輸入
func Apply(s State, a Action) State {
	next := s
	next.Messages = append([]ViewMessage(nil), s.Messages...)

	switch a := a.(type) {
	case Sent:
		next.Messages = append(next.Messages, a.Message)

	case AckOK:
		if a.Message == nil {
			break
		}
		i := next.indexOf(next.Viewer.ID, a.CorrelationID, a.Message.ID)
		if i < 0 {
			next.Messages = append(next.Messages, next.view(a.Message, StatusSent))
			break
		}
		next.Messages[i] = merge(next.Messages[i], next.view(a.Message, StatusSent))

	case AckFailed:
		if i := next.indexOf(next.Viewer.ID, a.CorrelationID, ""); i >= 0 && next.Messages[i].ID == "" {
			next.Messages[i].Status = StatusError
		}

	case Retry:
		if i := next.indexOf(next.Viewer.ID, a.CorrelationID, ""); i >= 0 && next.Messages[i].Status == StatusError {
			next.Messages[i].Status = StatusSending
		}

	case Received:
		if a.Message == nil {
			break
		}
		incoming := next.view(a.Message, StatusSent)
		if i := next.indexOf(a.Message.SenderID, a.Message.ClientCorrelationID, a.Message.ID); i >= 0 {
			next.Messages[i] = merge(next.Messages[i], incoming)
			break
		}
		next.Messages = append(next.Messages, incoming)

	case ReadReceipt:
		next.applyReadReceipt(a)

	case LoadStarted:
		next.Loading = true

	case PageLoaded:
		next.applyPage(a)
	}
	return next
}

// indexOf 先以同一發送者的 correlation ID 比對，再以伺服器 ID 比對
func (s *State) indexOf(senderID, correlationID, id string) int {
	if correlationID != "" {
		for i := range s.Messages {
			if s.Messages[i].SenderID == senderID && s.Messages[i].ClientCorrelationID == correlationID {
				return i
			}
		}
	}
	if id != "" {
		for i := range s.Messages {
			if s.Messages[i].ID == id {
				return i
			}
		}
	}
	return -1
}

func (s *State) view(m *chat.Message, status Status) ViewMessage {
	v := ViewMessage{Message: *m.Clone(), Status: status}
	if m.SenderID == s.Viewer.ID && m.Read {
		v.Status = StatusRead
	}
	return v
}

// merge 伺服器欄位優先；已讀狀態不會倒退
func merge(local, server ViewMessage) ViewMessage {
	out := server
	if local.Status == StatusRead {
		out.Status = StatusRead
		out.Read = true
		if out.ReadAt == nil {
			out.ReadAt = local.ReadAt
		}
	}
	if out.ClientCorrelationID == "" {
		out.ClientCorrelationID = local.ClientCorrelationID
	}
	return out
}

func (s *State) applyReadReceipt(a ReadReceipt) {
	readAt := a.ReadAt
	for i := range s.Messages {
		m := &s.Messages[i]
		// 已讀回條只影響讀者對方送出的訊息
		if m.SenderRole == a.By || m.ID == "" || m.Read {
			continue
		}
		m.Read = true
		m.ReadAt = &readAt
		if m.SenderID == s.Viewer.ID {
			m.Status = StatusRead
		}
	}
}

func (s *State) applyPage(a PageLoaded) {
	s.Loading = false
	if a.Page == nil {
		return
	}
	s.Cursor = a.Page.Cursor
	s.HasMore = a.Page.HasMore

	// 分頁為新到舊，畫面為舊到新
	older := make([]ViewMessage, 0, len(a.Page.Messages))
	for i := len(a.Page.Messages) - 1; i >= 0; i-- {
		if m := a.Page.Messages[i]; m != nil {
			older = append(older, s.view(m, StatusSent))
		}
	}

	if a.Initial {
		seen := make(map[string]bool, len(older))
		for _, m := range older {
			seen[m.ID] = true
		}
		// 尚未確認的樂觀訊息保留在最後
		kept := older
		for _, m := range s.Messages {
			if m.ID == "" && !containsCorrelation(older, m.SenderID, m.ClientCorrelationID) {
				kept = append(kept, m)
			} else if m.ID != "" && !seen[m.ID] && m.CreatedAt.After(lastTime(older)) {
				kept = append(kept, m)
			}
		}
		s.Messages = kept
		return
	}

	known := make(map[string]bool, len(s.Messages))
	for _, m := range s.Messages {
		if m.ID != "" {
			known[m.ID] = true
		}
	}
	merged := make([]ViewMessage, 0, len(older)+len(s.Messages))
	for _, m := range older {
		if !known[m.ID] {
			merged = append(merged, m)
		}
	}
	s.Messages = append(merged, s.Messages...)
}

func containsCorrelation(list []ViewMessage, senderID, correlationID string) bool {
	if correlationID == "" {
		return false
	}
	for _, m := range list {
		if m.SenderID == senderID && m.ClientCorrelationID == correlationID {
			return true
		}
	}
	return false
}

func lastTime(list []ViewMessage) time.Time {
	if len(list) == 0 {
		return time.Time{}
	}
	return list[len(list)-1].CreatedAt
}
