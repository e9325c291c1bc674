// Package directory is the boundary to the appointment booking system. It
// resolves an appointment to its two fixed participants.
package directory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 預約不存在.
var ErrNotFound = errors.New("appointment not found")

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

// Party 預約參與者的顯示資訊.
type Party struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Appointment 預約快照；參與者在建立後不可變.
type Appointment struct {
	ID          string    `json:"id"`
	Patient     Party     `json:"patient"`
	Doctor      Party     `json:"doctor"`
	ScheduledAt time.Time `json:"scheduledAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PartyFor 回傳指定角色的參與者.
func (a *Appointment) PartyFor(role string) (Party, bool) {
	switch role {
	case RolePatient:
		return a.Patient, true
	case RoleDoctor:
		return a.Doctor, true
	}
	return Party{}, false
}

// SortTime 無訊息時收件匣排序使用的時間.
func (a *Appointment) SortTime() time.Time {
	if !a.ScheduledAt.IsZero() {
		return a.ScheduledAt
	}
	return a.CreatedAt
}

// Directory 預約目錄.
type Directory interface {
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	ListAppointments(ctx context.Context, principalID, role string) ([]*Appointment, error)
}
