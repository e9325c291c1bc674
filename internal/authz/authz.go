// Package authz decides whether a principal may read or write an
// appointment's channel. Every chat operation goes through it.
package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clinic-chat/internal/chat"
	"clinic-chat/internal/directory"
)

// ErrDenied 不是預約參與者，或預約不存在.
var ErrDenied = chat.ErrUnauthorized

// Authorizer 以預約目錄為依據的頻道授權.
type Authorizer struct {
	dir directory.Directory
}

// New 創建授權器.
func New(dir directory.Directory) *Authorizer {
	return &Authorizer{dir: dir}
}

// Authorize 檢查 principalID 是否為預約的兩位參與者之一.
func (a *Authorizer) Authorize(ctx context.Context, appointmentID, principalID string) (*chat.Participant, error) {
	if strings.TrimSpace(appointmentID) == "" || strings.TrimSpace(principalID) == "" {
		return nil, ErrDenied
	}
	appt, err := a.dir.GetAppointment(ctx, appointmentID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, ErrDenied
	}
	if err != nil {
		return nil, fmt.Errorf("lookup appointment: %w", err)
	}

	patient := chat.Principal{ID: appt.Patient.ID, Role: chat.RolePatient}
	doctor := chat.Principal{ID: appt.Doctor.ID, Role: chat.RoleDoctor}
	switch principalID {
	case patient.ID:
		return &chat.Participant{Principal: patient, Counterpart: doctor, Appointment: appt}, nil
	case doctor.ID:
		return &chat.Participant{Principal: doctor, Counterpart: patient, Appointment: appt}, nil
	}
	return nil, ErrDenied
}

// AuthorizePrincipal 同 Authorize，並要求已認證的角色與預約上的角色一致.
func (a *Authorizer) AuthorizePrincipal(ctx context.Context, appointmentID string, p chat.Principal) (*chat.Participant, error) {
	part, err := a.Authorize(ctx, appointmentID, p.ID)
	if err != nil {
		return nil, err
	}
	if part.Principal.Role != p.Role {
		return nil, ErrDenied
	}
	return part, nil
}

// Gate 將授權器轉為 chat.Gate.
func (a *Authorizer) Gate() chat.Gate {
	return gate{a}
}

type gate struct{ a *Authorizer }

func (g gate) Authorize(ctx context.Context, appointmentID string, p chat.Principal) (*chat.Participant, error) {
	return g.a.AuthorizePrincipal(ctx, appointmentID, p)
}
