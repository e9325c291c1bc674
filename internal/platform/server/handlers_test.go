package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"clinic-chat/internal/authz"
	"clinic-chat/internal/chat"
	"clinic-chat/internal/directory"
	"clinic-chat/internal/inbox"
	"clinic-chat/internal/media"
	"clinic-chat/internal/platform/health"
	"clinic-chat/internal/platform/middleware"
	"clinic-chat/internal/storage/database/message"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router *gin.Engine
	chat   *chat.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := directory.NewStatic(
		&directory.Appointment{ID: "a1", Patient: directory.Party{ID: "P", Name: "Pat"}, Doctor: directory.Party{ID: "D", Name: "Dr. Lin"}, ScheduledAt: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)},
		&directory.Appointment{ID: "a2", Patient: directory.Party{ID: "Q"}, Doctor: directory.Party{ID: "D"}},
	)
	store := message.NewMemoryStore()
	agg := inbox.NewAggregator(dir, store, inbox.WithCache(inbox.NewMemoryCache(time.Minute)))
	svc := chat.NewService(store, authz.New(dir).Gate(), dir, chat.WithInboxObserver(agg))

	mediaDir := t.TempDir()
	local, err := media.NewLocalStore(mediaDir, "http://localhost/media")
	if err != nil {
		t.Fatal(err)
	}

	router := Router(Deps{
		Chat:          svc,
		Inbox:         agg,
		Media:         media.NewService(local, media.Limits{}, 64, nil),
		Auth:          middleware.NewJWTMiddleware("", "", false),
		Health:        health.NewHealthHandler("clinic-chat", true),
		LocalMediaDir: mediaDir,
	})
	return &fixture{router: router, chat: svc}
}

func (f *fixture) do(t *testing.T, req *http.Request, id, role string) (int, map[string]interface{}) {
	t.Helper()
	if id != "" {
		req.Header.Set(middleware.DevUserIDHeader, id)
		req.Header.Set(middleware.DevUserRoleHeader, role)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func (f *fixture) get(t *testing.T, path, id, role string) (int, map[string]interface{}) {
	return f.do(t, httptest.NewRequest(http.MethodGet, path, nil), id, role)
}

func (f *fixture) seed(t *testing.T, n int) {
	t.Helper()
	p := chat.Principal{ID: "P", Role: chat.RolePatient}
	for i := 0; i < n; i++ {
		_, err := f.chat.Send(context.Background(), p, chat.SendRequest{AppointmentID: "a1", Body: "msg", ClientCorrelationID: string(rune('a' + i))})
		if err != nil {
			t.Fatalf("寫入失敗: %v", err)
		}
	}
}

func TestGetHistory(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)

	tests := []struct {
		name        string
		path        string
		id, role    string
		wantStatus  int
		wantSuccess bool
	}{
		{"參與者", "/api/v1/messages/a1?limit=2", "D", "doctor", http.StatusOK, true},
		{"非參與者以 200 回應", "/api/v1/messages/a1", "Q", "patient", http.StatusOK, false},
		{"不存在的預約", "/api/v1/messages/zzz", "D", "doctor", http.StatusOK, false},
		{"無效 limit", "/api/v1/messages/a1?limit=abc", "D", "doctor", http.StatusBadRequest, false},
		{"無效 before", "/api/v1/messages/a1?before=nope", "D", "doctor", http.StatusBadRequest, false},
		{"未認證", "/api/v1/messages/a1", "", "", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.get(t, tt.path, tt.id, tt.role)
			if status != tt.wantStatus || body["success"] != tt.wantSuccess {
				t.Errorf("預期 %d/%v，實際 %d %v", tt.wantStatus, tt.wantSuccess, status, body)
			}
		})
	}
}

func TestGetHistoryPageAndReadFlip(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)

	_, unread := f.get(t, "/api/v1/unread-messages", "D", "doctor")
	if unread["unreadCount"] != float64(3) {
		t.Fatalf("讀取前未讀數應為 3: %v", unread)
	}

	_, body := f.get(t, "/api/v1/messages/a1?limit=2", "D", "doctor")
	msgs, _ := body["messages"].([]interface{})
	if len(msgs) != 2 || body["hasMore"] != true || body["limit"] != float64(2) || body["cursor"] == nil {
		t.Fatalf("分頁內容錯誤: %v", body)
	}
	if first := msgs[0].(map[string]interface{}); first["read"] != true {
		t.Errorf("回傳的訊息應已標記為已讀: %v", first)
	}

	_, unread = f.get(t, "/api/v1/unread-messages", "D", "doctor")
	if unread["unreadCount"] != float64(0) {
		t.Errorf("讀取後未讀數應為 0: %v", unread)
	}

	cursor := body["cursor"].(map[string]interface{})
	_, older := f.get(t, "/api/v1/messages/a1?before="+cursor["id"].(string), "D", "doctor")
	if msgs, _ := older["messages"].([]interface{}); len(msgs) != 1 || older["hasMore"] != false {
		t.Errorf("第二頁內容錯誤: %v", older)
	}
}

func TestGetInbox(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2)

	status, body := f.get(t, "/api/v1/inbox", "D", "doctor")
	entries, _ := body["inbox"].([]interface{})
	if status != http.StatusOK || len(entries) != 2 {
		t.Fatalf("收件匣錯誤: %d %v", status, body)
	}
	first := entries[0].(map[string]interface{})
	if first["appointmentId"] != "a1" || first["unreadCount"] != float64(2) || first["preview"] != "msg" {
		t.Errorf("第一筆應為有新訊息的預約: %v", first)
	}
}

func multipartRequest(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload/chat-file", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadChatFile(t *testing.T) {
	f := newFixture(t)
	var img bytes.Buffer
	_ = png.Encode(&img, imaging.New(40, 20, color.NRGBA{G: 255, A: 255}))

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		wantStatus  int
		wantType    string
	}{
		{"圖片", "scan.png", "image/png", img.Bytes(), http.StatusOK, "image"},
		{"以內容判斷類型", "scan.png", "", img.Bytes(), http.StatusOK, "image"},
		{"PDF", "lab.pdf", "application/pdf", []byte("%PDF-1.4 report"), http.StatusOK, "file"},
		{"不允許的類型", "run.sh", "application/x-sh", []byte("#!/bin/sh"), http.StatusBadRequest, ""},
		{"偽裝成圖片", "fake.png", "image/png", []byte("#!/bin/sh\necho hi"), http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, multipartRequest(t, tt.filename, tt.contentType, tt.data), "P", "patient")
			if status != tt.wantStatus {
				t.Fatalf("預期 %d，實際 %d %v", tt.wantStatus, status, body)
			}
			if tt.wantType == "" {
				return
			}
			file := body["file"].(map[string]interface{})
			if file["type"] != tt.wantType || file["url"] == "" || file["filename"] != tt.filename {
				t.Errorf("上傳結果錯誤: %v", file)
			}
		})
	}

	status, _ := f.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/upload/chat-file", nil), "P", "patient")
	if status != http.StatusBadRequest {
		t.Errorf("缺少檔案應回傳 400，實際 %d", status)
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/health", "/metrics"} {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s 應回傳 200，實際 %d", path, w.Code)
		}
	}
}
