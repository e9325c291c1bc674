package message

import (
	"context"
	"sort"
	"sync"
	"time"

	"clinic-chat/internal/chat"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemoryStore 記憶體內的訊息存儲，語意與 MongoStore 相同
type MemoryStore struct {
	mu            sync.RWMutex
	byID          map[string]*chat.Message
	byAppointment map[string][]*chat.Message // 依 (created_at, id) 遞增
	byCorrelation map[string]string
}

// NewMemoryStore 創建記憶體訊息存儲
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:          make(map[string]*chat.Message),
		byAppointment: make(map[string][]*chat.Message),
		byCorrelation: make(map[string]string),
	}
}

func correlationKey(senderID, correlationID string) string {
	return senderID + "\x00" + correlationID
}

func less(a, b *chat.Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (s *MemoryStore) Append(_ context.Context, m *chat.Message) (*chat.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ClientCorrelationID != "" {
		if id, ok := s.byCorrelation[correlationKey(m.SenderID, m.ClientCorrelationID)]; ok {
			return s.byID[id].Clone(), false, nil
		}
	}

	stored := m.Clone()
	stored.ID = bson.NewObjectID().Hex()
	stored.Read = false
	stored.ReadAt = nil
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now()
	}

	list := s.byAppointment[stored.AppointmentID]
	i := sort.Search(len(list), func(i int) bool { return less(stored, list[i]) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = stored
	s.byAppointment[stored.AppointmentID] = list

	s.byID[stored.ID] = stored
	if stored.ClientCorrelationID != "" {
		s.byCorrelation[correlationKey(stored.SenderID, stored.ClientCorrelationID)] = stored.ID
	}
	return stored.Clone(), true, nil
}

func (s *MemoryStore) Page(_ context.Context, appointmentID string, q chat.PageQuery) (*chat.Page, error) {
	limit := chat.ClampLimit(q.Limit, 0, 0)

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byAppointment[appointmentID]
	fetched := make([]*chat.Message, 0, limit+1)
	for i := len(list) - 1; i >= 0 && len(fetched) <= limit; i-- {
		if q.Before.OlderThan(list[i]) {
			fetched = append(fetched, list[i].Clone())
		}
	}
	return chat.NewPage(fetched, limit), nil
}

func (s *MemoryStore) MessageByID(_ context.Context, id string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, chat.ErrMessageNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) MarkRead(_ context.Context, appointmentID string, reader chat.Role, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.byAppointment[appointmentID] {
		if m.SenderRole == reader.Counterpart() && !m.Read {
			readAt := at
			m.Read = true
			m.ReadAt = &readAt
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, appointmentIDs []string, viewer chat.Role) (int64, error) {
	counts, err := s.UnreadByAppointment(ctx, appointmentIDs, viewer)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	return total, nil
}

func (s *MemoryStore) UnreadByAppointment(_ context.Context, appointmentIDs []string, viewer chat.Role) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64, len(appointmentIDs))
	seen := make(map[string]bool, len(appointmentIDs))
	for _, id := range appointmentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, m := range s.byAppointment[id] {
			if m.SenderRole == viewer.Counterpart() && !m.Read {
				out[id]++
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) LastMessage(_ context.Context, appointmentID string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byAppointment[appointmentID]
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1].Clone(), nil
}
