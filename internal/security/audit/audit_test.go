package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"clinic-chat/internal/chat"
	"clinic-chat/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

func newRecording(enabled bool) (*AuditService, *[]AuditEvent) {
	var events []AuditEvent
	a := NewAuditService(enabled)
	a.write = func(_ context.Context, e AuditEvent) { events = append(events, e) }
	return a, &events
}

func TestAuditEvents(t *testing.T) {
	a, events := newRecording(true)
	ctx := context.Background()

	a.LogMessageSent(ctx, "P", "a1", "m1", chat.KindText)
	a.LogMessagesRead(ctx, "D", "a1", 3)
	a.LogAccessDenied(ctx, "C", "a1", "history")
	a.LogFileUploaded(ctx, "P", chat.KindImage, "image/png", 1024)

	want := []struct{ eventType, result string }{
		{"message_sent", "success"},
		{"messages_read", "success"},
		{"access_denied", "denied"},
		{"file_uploaded", "success"},
	}
	if len(*events) != len(want) {
		t.Fatalf("預期 %d 筆審計事件，實際 %d", len(want), len(*events))
	}
	for i, w := range want {
		e := (*events)[i]
		if e.EventType != w.eventType || e.Result != w.result || e.Timestamp.IsZero() {
			t.Errorf("第 %d 筆事件錯誤: %+v", i, e)
		}
	}
	if (*events)[1].Details["count"] != int64(3) {
		t.Errorf("已讀筆數錯誤: %v", (*events)[1].Details)
	}
}

func TestAuditDisabled(t *testing.T) {
	a, events := newRecording(false)
	a.LogMessageSent(context.Background(), "P", "a1", "m1", chat.KindText)
	if len(*events) != 0 {
		t.Error("停用時不應記錄")
	}
}

func TestAuditEnrichedFromRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, events := newRecording(true)
	auth := middleware.NewJWTMiddleware("", "", false)

	r := gin.New()
	r.Use(middleware.RequestIDMiddleware(), middleware.RequestMetadataMiddleware(), auth.GinMiddleware())
	r.GET("/messages/:appointmentId", func(c *gin.Context) {
		a.LogAccessDenied(c.Request.Context(), "C", "", "history")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/messages/a7", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	req.Header.Set(middleware.DevUserIDHeader, "C")
	req.Header.Set(middleware.DevUserRoleHeader, "patient")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if len(*events) != 1 {
		t.Fatalf("預期 1 筆審計事件，實際 %d", len(*events))
	}
	e := (*events)[0]
	if e.AppointmentID != "a7" || e.Role != "patient" || e.RequestID != "req-123" || e.IPAddress != "203.0.113.9" {
		t.Errorf("審計事件未帶入請求資訊: %+v", e)
	}
}
