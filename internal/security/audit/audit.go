package audit

import (
	"context"
	"time"

	"clinic-chat/internal/chat"
	"clinic-chat/internal/platform/logger"
	"clinic-chat/internal/platform/middleware"
)

// AuditService 審計服務
type AuditService struct {
	enabled bool
	write   func(ctx context.Context, event AuditEvent)
}

// NewAuditService 創建審計服務
func NewAuditService(enabled bool) *AuditService {
	return &AuditService{enabled: enabled, write: writeLog}
}

// AuditEvent 審計事件
type AuditEvent struct {
	Timestamp     time.Time              `json:"timestamp"`
	EventType     string                 `json:"event_type"`
	PrincipalID   string                 `json:"principal_id"`
	Role          string                 `json:"role,omitempty"`
	AppointmentID string                 `json:"appointment_id,omitempty"`
	MessageID     string                 `json:"message_id,omitempty"`
	Action        string                 `json:"action"`
	Result        string                 `json:"result"` // success, denied
	Details       map[string]interface{} `json:"details,omitempty"`
	IPAddress     string                 `json:"ip_address,omitempty"`
	UserAgent     string                 `json:"user_agent,omitempty"`
	RequestID     string                 `json:"request_id,omitempty"`
}

// LogMessageSent 記錄訊息發送
func (a *AuditService) LogMessageSent(ctx context.Context, principalID, appointmentID, messageID string, kind chat.Kind) {
	a.record(ctx, AuditEvent{
		EventType:     "message_sent",
		PrincipalID:   principalID,
		AppointmentID: appointmentID,
		MessageID:     messageID,
		Action:        "send_message",
		Result:        "success",
		Details:       map[string]interface{}{"kind": kind},
	})
}

// LogMessagesRead 記錄訊息已讀
func (a *AuditService) LogMessagesRead(ctx context.Context, principalID, appointmentID string, count int64) {
	a.record(ctx, AuditEvent{
		EventType:     "messages_read",
		PrincipalID:   principalID,
		AppointmentID: appointmentID,
		Action:        "mark_as_read",
		Result:        "success",
		Details:       map[string]interface{}{"count": count},
	})
}

// LogAccessDenied 記錄非參與者的存取
func (a *AuditService) LogAccessDenied(ctx context.Context, principalID, appointmentID, action string) {
	a.record(ctx, AuditEvent{
		EventType:     "access_denied",
		PrincipalID:   principalID,
		AppointmentID: appointmentID,
		Action:        action,
		Result:        "denied",
	})
}

// LogFileUploaded 記錄附件上傳
func (a *AuditService) LogFileUploaded(ctx context.Context, principalID string, kind chat.Kind, mimeType string, size int64) {
	a.record(ctx, AuditEvent{
		EventType:   "file_uploaded",
		PrincipalID: principalID,
		Action:      "upload_file",
		Result:      "success",
		Details: map[string]interface{}{
			"kind":      kind,
			"mime_type": mimeType,
			"size":      size,
		},
	})
}

func (a *AuditService) record(ctx context.Context, event AuditEvent) {
	if !a.enabled {
		return
	}
	event.Timestamp = time.Now().UTC()
	if meta := middleware.GetRequestMetadata(ctx); meta != nil {
		event.IPAddress = meta.IPAddress
		event.UserAgent = meta.UserAgent
		if event.AppointmentID == "" {
			event.AppointmentID = meta.AppointmentID
		}
		event.Role = meta.Role
	}
	event.RequestID = middleware.RequestIDFromContext(ctx)
	a.write(ctx, event)
}

func writeLog(ctx context.Context, event AuditEvent) {
	logger.Notice(ctx, "審計事件",
		logger.WithPrincipal(event.PrincipalID, event.Role),
		logger.WithAppointmentID(event.AppointmentID),
		logger.WithMessageID(event.MessageID),
		logger.WithAction(event.Action),
		logger.WithDetails(map[string]interface{}{
			"audit":      true,
			"event_type": event.EventType,
			"result":     event.Result,
			"details":    event.Details,
			"ip_address": event.IPAddress,
			"user_agent": event.UserAgent,
			"request_id": event.RequestID,
		}))
}
