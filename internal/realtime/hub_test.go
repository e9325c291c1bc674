package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"clinic-chat/internal/chat"
)

type fakeConn struct {
	mu     sync.Mutex
	closed int
}

func (f *fakeConn) WriteMessage(int, []byte) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestClient(id string, buffer int) (*Client, *fakeConn) {
	conn := &fakeConn{}
	return NewClient(chat.Principal{ID: id, Role: chat.RolePatient}, conn, buffer, nil), conn
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestHubRooms(t *testing.T) {
	hub := NewHub()
	a, _ := newTestClient("a", 8)
	b, _ := newTestClient("b", 8)
	outsider, _ := newTestClient("c", 8)
	for _, c := range []*Client{a, b, outsider} {
		hub.Register(c)
	}
	hub.Join(a, "appointment-1")
	hub.Join(b, "appointment-1")

	hub.Emit(context.Background(), "appointment-1", chat.EventReceiveMessage, map[string]string{"body": "hi"})

	if got := len(drain(a)); got != 1 {
		t.Errorf("a 應收到 1 則，實際 %d", got)
	}
	if got := len(drain(b)); got != 1 {
		t.Errorf("b 應收到 1 則，實際 %d", got)
	}
	if got := len(drain(outsider)); got != 0 {
		t.Errorf("房間外的連線不應收到事件，實際 %d", got)
	}

	hub.Leave(b, "appointment-1")
	hub.Emit(context.Background(), "appointment-1", chat.EventReceiveMessage, nil)
	if got := len(drain(b)); got != 0 {
		t.Errorf("離開房間後不應收到事件，實際 %d", got)
	}
	if hub.RoomCount("appointment-1") != 1 {
		t.Errorf("房間人數錯誤: %d", hub.RoomCount("appointment-1"))
	}
}

func TestHubEmitFrame(t *testing.T) {
	hub := NewHub()
	c, _ := newTestClient("a", 1)
	hub.Register(c)
	hub.Join(c, "patient-a")

	hub.Emit(context.Background(), "patient-a", chat.EventInboxUpdate, chat.InboxUpdatePayload{AppointmentID: "1"})

	frames := drain(c)
	if len(frames) != 1 {
		t.Fatalf("預期 1 個訊框，實際 %d", len(frames))
	}
	var f struct {
		Event string                  `json:"event"`
		Data  chat.InboxUpdatePayload `json:"data"`
	}
	if err := json.Unmarshal(frames[0], &f); err != nil {
		t.Fatalf("訊框解析失敗: %v", err)
	}
	if f.Event != chat.EventInboxUpdate || f.Data.AppointmentID != "1" {
		t.Errorf("訊框內容錯誤: %+v", f)
	}
}

func TestHubUnregisterReleasesRooms(t *testing.T) {
	hub := NewHub()
	c, _ := newTestClient("a", 4)
	hub.Register(c)
	hub.Join(c, "r1")
	hub.Join(c, "r2")

	hub.Unregister(c)
	hub.Unregister(c)

	if hub.RoomCount("r1") != 0 || hub.RoomCount("r2") != 0 || hub.ClientCount() != 0 {
		t.Error("斷線後應釋放所有房間")
	}
	if _, ok := <-c.send; ok {
		t.Error("發送通道應已關閉")
	}
	if hub.SendTo(c, []byte("x")) {
		t.Error("已登出的連線不應再收到訊框")
	}
	hub.Emit(context.Background(), "r1", "x", nil)
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub()
	slow, conn := newTestClient("slow", 1)
	hub.Register(slow)
	hub.Join(slow, "r")

	hub.Deliver("r", []byte("1"))
	hub.Deliver("r", []byte("2"))
	hub.Deliver("r", []byte("3"))

	if conn.closeCount() != 1 {
		t.Errorf("緩衝區滿時應關閉連線一次，實際 %d", conn.closeCount())
	}
	if got := len(drain(slow)); got != 1 {
		t.Errorf("只應保留第一個訊框，實際 %d", got)
	}
}

type recordingRelay struct {
	rooms []string
}

func (r *recordingRelay) Publish(_ context.Context, room string, _ []byte) error {
	r.rooms = append(r.rooms, room)
	return nil
}

func TestHubRelay(t *testing.T) {
	hub := NewHub()
	relay := &recordingRelay{}
	hub.SetRelay(relay)

	hub.Emit(context.Background(), "appointment-1", chat.EventReceiveMessage, nil)
	if len(relay.rooms) != 1 || relay.rooms[0] != "appointment-1" {
		t.Errorf("事件應轉送到其他節點: %v", relay.rooms)
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	c, conn := newTestClient("a", 1)
	hub.Register(c)
	hub.Close()

	if conn.closeCount() != 1 {
		t.Error("Close 應關閉所有連線")
	}
	late, lateConn := newTestClient("b", 1)
	if hub.Register(late) || lateConn.closeCount() != 1 {
		t.Error("關閉後不應再接受連線")
	}
}
