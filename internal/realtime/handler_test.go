package realtime_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clinic-chat/internal/authz"
	"clinic-chat/internal/chat"
	"clinic-chat/internal/directory"
	"clinic-chat/internal/platform/middleware"
	"clinic-chat/internal/realtime"
	"clinic-chat/internal/storage/database/message"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type frame struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId"`
	Data  json.RawMessage `json:"data"`
}

type ack struct {
	OK      bool          `json:"ok"`
	Message *chat.Message `json:"message"`
	Error   string        `json:"error"`
}

type testServer struct {
	hub *realtime.Hub
	url string
}

func newTestServer(t *testing.T, opts realtime.Options) *testServer {
	t.Helper()
	dir := directory.NewStatic(
		&directory.Appointment{ID: "a1", Patient: directory.Party{ID: "P"}, Doctor: directory.Party{ID: "D"}},
		&directory.Appointment{ID: "a2", Patient: directory.Party{ID: "Q"}, Doctor: directory.Party{ID: "D"}},
	)
	hub := realtime.NewHub()
	svc := chat.NewService(message.NewMemoryStore(), authz.New(dir).Gate(), dir, chat.WithNotifier(hub))
	auth := middleware.NewJWTMiddleware("", "", false)
	h := realtime.NewHandler(hub, svc, auth.Authenticate, middleware.NewConnLimiter(10, 0, 100), opts)

	r := gin.New()
	r.GET("/ws", h.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testServer{hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

func (s *testServer) dial(t *testing.T, id, role string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(s.url+"?user_id="+id+"&role="+role, nil)
	if err != nil {
		t.Fatalf("連線失敗: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func (s *testServer) waitRoom(t *testing.T, room string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.hub.RoomCount(room) == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("房間 %s 人數未達 %d，實際 %d", room, n, s.hub.RoomCount(room))
}

func send(t *testing.T, ws *websocket.Conn, event, ackID string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(data)
	if err := ws.WriteJSON(frame{Event: event, AckID: ackID, Data: raw}); err != nil {
		t.Fatalf("寫入失敗: %v", err)
	}
}

// readUntil 讀取訊框直到出現指定事件，回傳途中收到的所有訊框
func readUntil(t *testing.T, ws *websocket.Conn, event string) []frame {
	t.Helper()
	var seen []frame
	for {
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			t.Fatalf("等待 %s 時讀取失敗: %v (已收到 %d 個)", event, err, len(seen))
		}
		seen = append(seen, f)
		if f.Event == event {
			return seen
		}
	}
}

func decodeAck(t *testing.T, f frame) ack {
	t.Helper()
	var a ack
	if err := json.Unmarshal(f.Data, &a); err != nil {
		t.Fatalf("ack 解析失敗: %v", err)
	}
	return a
}

func countEvent(frames []frame, event string) int {
	n := 0
	for _, f := range frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

func TestWebSocketRoundTrip(t *testing.T) {
	s := newTestServer(t, realtime.Options{})
	p := s.dial(t, "P", "patient")
	d := s.dial(t, "D", "doctor")

	s.waitRoom(t, "doctor-D", 1)
	send(t, p, realtime.EventJoinAppointment, "", realtime.JoinData{AppointmentID: "a1"})
	send(t, d, realtime.EventJoinAppointment, "", realtime.JoinData{AppointmentID: "a1"})
	s.waitRoom(t, "appointment-a1", 2)

	req := chat.SendRequest{AppointmentID: "a1", Body: "Hello", ClientCorrelationID: "c-1"}
	send(t, p, realtime.EventSendMessage, "k1", req)

	frames := readUntil(t, p, realtime.EventAck)
	if countEvent(frames, chat.EventReceiveMessage) != 1 {
		t.Errorf("發送者應收到自己的訊息回音: %+v", frames)
	}
	first := decodeAck(t, frames[len(frames)-1])
	if frames[len(frames)-1].AckID != "k1" || !first.OK || first.Message == nil || first.Message.Body != "Hello" {
		t.Fatalf("ack 內容錯誤: %+v", first)
	}

	got := readUntil(t, d, chat.EventReceiveMessage)
	var m chat.Message
	if err := json.Unmarshal(got[len(got)-1].Data, &m); err != nil || m.ID != first.Message.ID {
		t.Errorf("醫師應收到相同訊息: %+v %v", m, err)
	}

	// 重試相同 correlation ID 回傳同一則訊息
	send(t, p, realtime.EventSendMessage, "k2", req)
	retry := readUntil(t, p, realtime.EventAck)
	second := decodeAck(t, retry[len(retry)-1])
	if retry[len(retry)-1].AckID != "k2" || !second.OK || second.Message.ID != first.Message.ID {
		t.Errorf("重試應回傳原訊息: %+v", second)
	}
}

func TestWebSocketOutsiderDenied(t *testing.T) {
	s := newTestServer(t, realtime.Options{})
	p := s.dial(t, "P", "patient")
	q := s.dial(t, "Q", "patient")

	send(t, p, realtime.EventJoinAppointment, "", realtime.JoinData{AppointmentID: "a1"})
	s.waitRoom(t, "appointment-a1", 1)

	send(t, q, realtime.EventJoinAppointment, "", realtime.JoinData{AppointmentID: "a1"})
	send(t, q, realtime.EventSendMessage, "x1", chat.SendRequest{AppointmentID: "a1", Body: "hi", ClientCorrelationID: "q-1"})

	frames := readUntil(t, q, realtime.EventAck)
	a := decodeAck(t, frames[len(frames)-1])
	if a.OK || a.Error != "Unauthorized" {
		t.Errorf("非參與者發送應被拒絕: %+v", a)
	}
	if countEvent(frames, chat.EventReceiveMessage) != 0 {
		t.Error("非參與者不應收到任何訊息")
	}
	if n := s.hub.RoomCount("appointment-a1"); n != 1 {
		t.Errorf("非參與者不應加入房間，房間人數 %d", n)
	}
}

func TestWebSocketValidationAndRateLimit(t *testing.T) {
	s := newTestServer(t, realtime.Options{SendPerSecond: 0.001, SendBurst: 2})
	p := s.dial(t, "P", "patient")

	send(t, p, realtime.EventSendMessage, "v1", chat.SendRequest{AppointmentID: "a1", Body: "   ", ClientCorrelationID: "c-1"})
	frames := readUntil(t, p, realtime.EventAck)
	if a := decodeAck(t, frames[len(frames)-1]); a.OK || a.Error == "" {
		t.Errorf("空白訊息應驗證失敗: %+v", a)
	}

	send(t, p, realtime.EventSendMessage, "v2", chat.SendRequest{AppointmentID: "a1", Body: "ok", ClientCorrelationID: "c-2"})
	frames = readUntil(t, p, realtime.EventAck)
	if a := decodeAck(t, frames[len(frames)-1]); !a.OK {
		t.Errorf("第二則應成功: %+v", a)
	}

	send(t, p, realtime.EventSendMessage, "v3", chat.SendRequest{AppointmentID: "a1", Body: "again", ClientCorrelationID: "c-3"})
	frames = readUntil(t, p, realtime.EventAck)
	if a := decodeAck(t, frames[len(frames)-1]); a.OK || a.Error != "rate limited" {
		t.Errorf("超過頻率應被限制: %+v", a)
	}
}

func TestWebSocketRequiresAuthentication(t *testing.T) {
	s := newTestServer(t, realtime.Options{})
	_, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err == nil {
		t.Fatal("未認證的握手應失敗")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("預期 401，實際 %v", resp)
	}
}
