package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinic-chat/internal/directory"
	"clinic-chat/internal/events"
	"clinic-chat/internal/platform/logger"
	"clinic-chat/internal/platform/metrics"
)

// SendRequest 發送訊息的請求內容；身份來自已認證的 Principal.
type SendRequest struct {
	AppointmentID       string      `json:"appointmentId"`
	Body                string      `json:"body"`
	ClientCorrelationID string      `json:"clientCorrelationId"`
	Kind                Kind        `json:"kind,omitempty"`
	Attachment          *Attachment `json:"attachment,omitempty"`
}

// HistoryQuery 歷史訊息查詢；Before 為 RFC3339 時間或訊息 ID.
type HistoryQuery struct {
	Limit  int
	Before string
}

// Service 聊天服務：授權、寫入、廣播與已讀處理.
type Service struct {
	store     Store
	gate      Gate
	dir       directory.Directory
	notifier  Notifier
	codec     BodyCodec
	publisher events.Publisher
	auditor   Auditor
	observers []InboxObserver

	maxBodyLength   int
	defaultPageSize int
	maxPageSize     int
	now             func() time.Time
}

// Option 服務選項.
type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithBodyCodec(c BodyCodec) Option { return func(s *Service) { s.codec = c } }

func WithEventPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithAuditor(a Auditor) Option { return func(s *Service) { s.auditor = a } }

// WithInboxObserver 註冊收件匣變動的觀察者，例如快取失效.
func WithInboxObserver(o InboxObserver) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

func WithMaxBodyLength(n int) Option { return func(s *Service) { s.maxBodyLength = n } }

// WithPageSize 設定預設與最大分頁大小.
func WithPageSize(def, max int) Option {
	return func(s *Service) {
		s.defaultPageSize = def
		s.maxPageSize = max
	}
}

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService 創建聊天服務.
func NewService(store Store, gate Gate, dir directory.Directory, opts ...Option) *Service {
	s := &Service{
		store:     store,
		gate:      gate,
		dir:       dir,
		notifier:  nopNotifier{},
		codec:     nopCodec{},
		publisher: events.Nop{},
		auditor:   nopAuditor{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clock 回傳毫秒精度的 UTC 時間，與存儲精度一致.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Join 授權操作者進入預約房間.
func (s *Service) Join(ctx context.Context, p Principal, appointmentID string) (*Participant, error) {
	return s.authorize(ctx, appointmentID, p, "join-appointment")
}

func (s *Service) authorize(ctx context.Context, appointmentID string, p Principal, action string) (*Participant, error) {
	part, err := s.gate.Authorize(ctx, appointmentID, p)
	if errors.Is(err, ErrUnauthorized) {
		metrics.AccessDenied.WithLabelValues(action).Inc()
		s.auditor.LogAccessDenied(ctx, p.ID, appointmentID, action)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	return part, nil
}

// Send 發送訊息；相同 correlation ID 的重試回傳原訊息.
func (s *Service) Send(ctx context.Context, p Principal, req SendRequest) (*Message, error) {
	part, err := s.authorize(ctx, req.AppointmentID, p, "send-message")
	if err != nil {
		return nil, err
	}

	kind := req.Kind
	if kind == "" {
		kind = KindText
	}
	m := &Message{
		AppointmentID:       part.AppointmentID(),
		SenderID:            p.ID,
		SenderRole:          p.Role,
		Kind:                kind,
		Body:                req.Body,
		Attachment:          req.Attachment,
		ClientCorrelationID: strings.TrimSpace(req.ClientCorrelationID),
		CreatedAt:           s.clock(),
	}
	if err := m.Validate(s.maxBodyLength); err != nil {
		return nil, err
	}

	sealed, err := s.codec.Seal(m.AppointmentID, m.Body)
	if err != nil {
		return nil, fmt.Errorf("seal body: %w", err)
	}
	m.Body = sealed

	stored, created, err := s.store.Append(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if stored.AppointmentID != part.AppointmentID() {
		logger.Warning(ctx, "correlation ID 已用於其他預約",
			logger.WithPrincipal(p.ID, string(p.Role)),
			logger.WithAppointmentID(part.AppointmentID()),
			logger.WithMessageID(stored.ID))
		return nil, ErrCorrelationConflict
	}
	out, err := s.open(stored)
	if err != nil {
		return nil, err
	}

	// 先寫入再廣播，房間內的順序即為持久化順序.
	s.notifier.Emit(ctx, AppointmentRoom(out.AppointmentID), EventReceiveMessage, out)
	s.inboxUpdated(ctx, part)

	if !created {
		logger.Info(ctx, "重試訊息已存在，回傳原訊息",
			logger.WithPrincipal(p.ID, string(p.Role)),
			logger.WithAppointmentID(out.AppointmentID),
			logger.WithMessageID(out.ID))
		return out, nil
	}

	metrics.MessagesSent.WithLabelValues(string(out.Kind)).Inc()
	s.auditor.LogMessageSent(ctx, p.ID, out.AppointmentID, out.ID, out.Kind)
	s.publish(ctx, events.Event{
		Type:          events.TypeMessageSent,
		AppointmentID: out.AppointmentID,
		OccurredAt:    out.CreatedAt,
		Payload: map[string]interface{}{
			"messageId":  out.ID,
			"senderId":   out.SenderID,
			"senderRole": out.SenderRole,
			"kind":       out.Kind,
		},
	})
	return out, nil
}

// History 取得歷史訊息，並觸發已讀處理.
func (s *Service) History(ctx context.Context, p Principal, appointmentID string, q HistoryQuery) (*Page, error) {
	part, err := s.authorize(ctx, appointmentID, p, "history")
	if err != nil {
		return nil, err
	}

	before, err := s.ParseBefore(ctx, part.AppointmentID(), q.Before)
	if err != nil {
		return nil, err
	}
	limit := ClampLimit(q.Limit, s.defaultPageSize, s.maxPageSize)

	page, err := s.store.Page(ctx, part.AppointmentID(), PageQuery{Limit: limit, Before: before})
	if err != nil {
		return nil, fmt.Errorf("page messages: %w", err)
	}
	for i, m := range page.Messages {
		opened, err := s.open(m)
		if err != nil {
			return nil, err
		}
		page.Messages[i] = opened
	}

	s.OnHistoryFetched(ctx, part, page)
	return page, nil
}

// ParseBefore 解析分頁起點：RFC3339 時間，或同一預約內的訊息 ID.
func (s *Service) ParseBefore(ctx context.Context, appointmentID, raw string) (Before, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Before{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return Before{Time: t.UTC()}, nil
	}

	m, err := s.store.MessageByID(ctx, raw)
	if errors.Is(err, ErrMessageNotFound) {
		return Before{}, fmt.Errorf("%w: %q is neither a timestamp nor a known message", ErrInvalidCursor, raw)
	}
	if err != nil {
		return Before{}, fmt.Errorf("resolve cursor: %w", err)
	}
	if m.AppointmentID != appointmentID {
		return Before{}, fmt.Errorf("%w: message belongs to another appointment", ErrInvalidCursor)
	}
	return Before{Time: m.CreatedAt, ID: m.ID}, nil
}

// OnHistoryFetched 取得歷史即視為已讀：標記對方訊息並發出已讀回條.
func (s *Service) OnHistoryFetched(ctx context.Context, part *Participant, page *Page) {
	reader := part.Principal
	at := s.clock()

	n, err := s.store.MarkRead(ctx, part.AppointmentID(), reader.Role, at)
	if err != nil {
		logger.Warning(ctx, "標記已讀失敗",
			logger.WithPrincipal(reader.ID, string(reader.Role)),
			logger.WithAppointmentID(part.AppointmentID()),
			logger.WithError(err))
		return
	}
	if n == 0 {
		return
	}

	if page != nil {
		for _, m := range page.Messages {
			if m.SenderRole != reader.Role && !m.Read {
				readAt := at
				m.Read = true
				m.ReadAt = &readAt
			}
		}
	}

	s.notifier.Emit(ctx, AppointmentRoom(part.AppointmentID()), EventMessagesRead, MessagesReadPayload{
		AppointmentID: part.AppointmentID(),
		By:            reader.Role,
		ReadAt:        at,
	})
	s.inboxUpdated(ctx, part)

	metrics.MessagesMarkedRead.Add(float64(n))
	s.auditor.LogMessagesRead(ctx, reader.ID, part.AppointmentID(), n)
	s.publish(ctx, events.Event{
		Type:          events.TypeMessagesRead,
		AppointmentID: part.AppointmentID(),
		OccurredAt:    at,
		Payload:       map[string]interface{}{"by": reader.Role, "count": n},
	})
}

// UnreadTotal 操作者所有預約中對方未讀訊息的總數.
func (s *Service) UnreadTotal(ctx context.Context, p Principal) (int64, error) {
	appts, err := s.dir.ListAppointments(ctx, p.ID, string(p.Role))
	if err != nil {
		return 0, fmt.Errorf("list appointments: %w", err)
	}
	if len(appts) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(appts))
	for _, a := range appts {
		ids = append(ids, a.ID)
	}
	n, err := s.store.UnreadCount(ctx, ids, p.Role)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// inboxUpdated 先讓觀察者失效快取，再通知雙方收件匣.
func (s *Service) inboxUpdated(ctx context.Context, part *Participant) {
	for _, o := range s.observers {
		o.InboxUpdated(ctx, part.AppointmentID())
	}
	payload := InboxUpdatePayload{AppointmentID: part.AppointmentID()}
	for _, room := range part.InboxRooms() {
		s.notifier.Emit(ctx, room, EventInboxUpdate, payload)
	}
}

func (s *Service) open(m *Message) (*Message, error) {
	out := m.Clone()
	body, err := s.codec.Open(out.AppointmentID, out.Body)
	if err != nil {
		return nil, fmt.Errorf("open body of %s: %w", out.ID, err)
	}
	out.Body = body
	return out, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		logger.Warning(ctx, "發布聊天事件失敗",
			logger.WithAppointmentID(e.AppointmentID),
			logger.WithAction(string(e.Type)),
			logger.WithError(err))
	}
}
