package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clinic-chat/internal/platform/config"
)

// Static 記憶體內的預約目錄，用於本機開發與測試.
type Static struct {
	mu           sync.RWMutex
	appointments map[string]*Appointment
}

// NewStatic 創建靜態預約目錄.
func NewStatic(appointments ...*Appointment) *Static {
	s := &Static{appointments: make(map[string]*Appointment, len(appointments))}
	for _, a := range appointments {
		s.Put(a)
	}
	return s
}

// NewStaticFromConfig 從配置建立靜態預約目錄.
func NewStaticFromConfig(entries []config.AppointmentConfig) (*Static, error) {
	s := NewStatic()
	for _, e := range entries {
		if e.ID == "" || e.Patient.ID == "" || e.Doctor.ID == "" {
			return nil, fmt.Errorf("預約 %q 缺少必要欄位", e.ID)
		}
		a := &Appointment{
			ID:      e.ID,
			Patient: Party{ID: e.Patient.ID, Name: e.Patient.Name, Avatar: e.Patient.Avatar},
			Doctor:  Party{ID: e.Doctor.ID, Name: e.Doctor.Name, Avatar: e.Doctor.Avatar},
		}
		if e.ScheduledAt != "" {
			t, err := time.Parse(time.RFC3339, e.ScheduledAt)
			if err != nil {
				return nil, fmt.Errorf("預約 %q 時間格式錯誤: %w", e.ID, err)
			}
			a.ScheduledAt = t
			a.CreatedAt = t
		}
		s.Put(a)
	}
	return s, nil
}

// Put 新增或覆蓋預約.
func (s *Static) Put(a *Appointment) {
	cp := *a
	s.mu.Lock()
	s.appointments[a.ID] = &cp
	s.mu.Unlock()
}

// GetAppointment 取得預約.
func (s *Static) GetAppointment(_ context.Context, id string) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAppointments 列出操作者參與的預約，依 ID 排序.
func (s *Static) ListAppointments(_ context.Context, principalID, role string) ([]*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Appointment, 0)
	for _, a := range s.appointments {
		p, ok := a.PartyFor(role)
		if !ok || p.ID != principalID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
