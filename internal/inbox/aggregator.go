// Package inbox builds the per-principal conversation list shown next to
// the chat: one entry per appointment with its last message and unread count.
package inbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	"clinic-chat/internal/chat"
	"clinic-chat/internal/directory"
	"clinic-chat/internal/platform/logger"
)

// Counterpart 對方的顯示資訊
type Counterpart struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Avatar string    `json:"avatar,omitempty"`
	Role   chat.Role `json:"role"`
}

// Entry 收件匣項目
type Entry struct {
	AppointmentID   string        `json:"appointmentId"`
	AppointmentDate time.Time     `json:"appointmentDate"`
	Counterpart     Counterpart   `json:"counterpart"`
	LastMessage     *chat.Message `json:"lastMessage"`
	Preview         string        `json:"preview"`
	UnreadCount     int64         `json:"unreadCount"`
}

func (e *Entry) sortTime(a *directory.Appointment) time.Time {
	if e.LastMessage != nil {
		return e.LastMessage.CreatedAt
	}
	return a.SortTime()
}

// Aggregator 收件匣聚合
type Aggregator struct {
	dir   directory.Directory
	store chat.Store
	cache LastMessageCache
	codec chat.BodyCodec
}

// Option 聚合選項
type Option func(*Aggregator)

// WithCache 使用最新訊息快取
func WithCache(c LastMessageCache) Option {
	return func(a *Aggregator) { a.cache = c }
}

// WithBodyCodec 解密快取或存儲中的訊息內容
func WithBodyCodec(c chat.BodyCodec) Option {
	return func(a *Aggregator) { a.codec = c }
}

// NewAggregator 創建收件匣聚合
func NewAggregator(dir directory.Directory, store chat.Store, opts ...Option) *Aggregator {
	a := &Aggregator{dir: dir, store: store, cache: nopCache{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Inbox 依最新活動時間排序的收件匣
func (a *Aggregator) Inbox(ctx context.Context, principalID string, role chat.Role) ([]Entry, error) {
	appts, err := a.dir.ListAppointments(ctx, principalID, string(role))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	entries := make([]Entry, 0, len(appts))
	if len(appts) == 0 {
		return entries, nil
	}

	ids := make([]string, 0, len(appts))
	for _, appt := range appts {
		ids = append(ids, appt.ID)
	}
	unread, err := a.store.UnreadByAppointment(ctx, ids, role)
	if err != nil {
		return nil, fmt.Errorf("unread by appointment: %w", err)
	}

	byID := make(map[string]*directory.Appointment, len(appts))
	for _, appt := range appts {
		byID[appt.ID] = appt

		last, err := a.lastMessage(ctx, appt.ID)
		if err != nil {
			return nil, err
		}
		party, _ := appt.PartyFor(string(role.Counterpart()))
		entries = append(entries, Entry{
			AppointmentID:   appt.ID,
			AppointmentDate: appt.ScheduledAt,
			Counterpart: Counterpart{
				ID:     party.ID,
				Name:   party.Name,
				Avatar: party.Avatar,
				Role:   role.Counterpart(),
			},
			LastMessage: last,
			Preview:     chat.Preview(last),
			UnreadCount: unread[appt.ID],
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ti := entries[i].sortTime(byID[entries[i].AppointmentID])
		tj := entries[j].sortTime(byID[entries[j].AppointmentID])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return entries[i].AppointmentID < entries[j].AppointmentID
	})
	return entries, nil
}

// lastMessage 快取中存放的是未解密的內容
func (a *Aggregator) lastMessage(ctx context.Context, appointmentID string) (*chat.Message, error) {
	m, ok, err := a.cache.Get(ctx, appointmentID)
	if err != nil {
		logger.Warning(ctx, "讀取收件匣快取失敗", logger.WithAppointmentID(appointmentID), logger.WithError(err))
		ok = false
	}
	if !ok {
		gen, genErr := a.cache.Generation(ctx, appointmentID)
		if genErr != nil {
			logger.Warning(ctx, "讀取收件匣快取世代失敗", logger.WithAppointmentID(appointmentID), logger.WithError(genErr))
		}
		m, err = a.store.LastMessage(ctx, appointmentID)
		if err != nil {
			return nil, fmt.Errorf("last message: %w", err)
		}
		if m != nil && genErr == nil {
			if _, err := a.cache.Fill(ctx, appointmentID, gen, m); err != nil {
				logger.Warning(ctx, "寫入收件匣快取失敗", logger.WithAppointmentID(appointmentID), logger.WithError(err))
			}
		}
	}
	if m == nil || a.codec == nil {
		return m, nil
	}

	out := m.Clone()
	body, err := a.codec.Open(appointmentID, out.Body)
	if err != nil {
		return nil, fmt.Errorf("open last message: %w", err)
	}
	out.Body = body
	return out, nil
}

// InboxUpdated 實作 chat.InboxObserver：讓最新訊息快取失效
func (a *Aggregator) InboxUpdated(ctx context.Context, appointmentID string) {
	if err := a.cache.Invalidate(ctx, appointmentID); err != nil {
		logger.Warning(ctx, "收件匣快取失效失敗", logger.WithAppointmentID(appointmentID), logger.WithError(err))
	}
}
