package realtime

import (
	"context"
	"sync"

	"clinic-chat/internal/platform/logger"
	"clinic-chat/internal/platform/metrics"
)

// Relay 將事件轉送到其他節點
type Relay interface {
	Publish(ctx context.Context, room string, frame []byte) error
}

// Hub 管理連線與房間，所有操作由 RWMutex 保護
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{} // room -> clients
	clients map[*Client]struct{}
	closed  bool
	relay   Relay
}

// NewHub 創建連線中心
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

// SetRelay 設定跨節點轉送
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Register 加入連線
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		_ = c.conn.Close()
		return false
	}
	h.clients[c] = struct{}{}
	metrics.ActiveConnections.Inc()
	return true
}

// Unregister 移除連線、釋放所有房間並關閉發送通道
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c)
	close(c.send)
	metrics.ActiveConnections.Dec()
}

// Join 將連線加入房間
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Leave 將連線移出房間
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// Emit 實作 chat.Notifier：先送到本機房間，再轉送其他節點
func (h *Hub) Emit(ctx context.Context, room, event string, payload interface{}) {
	frame, err := encodeFrame(event, "", payload)
	if err != nil {
		logger.Error(ctx, "即時事件編碼失敗", logger.WithAction(event), logger.WithError(err))
		return
	}
	h.Deliver(room, frame)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		if err := relay.Publish(ctx, room, frame); err != nil {
			logger.Warning(ctx, "跨節點轉送失敗", logger.WithAction(event), logger.WithError(err))
		}
	}
}

// Deliver 將已編碼的訊框送給本機房間內的所有連線
// 緩衝區已滿的連線視為過慢，直接斷線
func (h *Hub) Deliver(room string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[room] {
		h.trySendLocked(c, frame)
	}
}

// SendTo 直接送給單一連線，例如 ack
func (h *Hub) SendTo(c *Client, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}
	return h.trySendLocked(c, frame)
}

func (h *Hub) trySendLocked(c *Client, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		metrics.DroppedFrames.Inc()
		c.closeSlow()
		return false
	}
}

// Close 關閉所有連線；各連線的讀取迴圈會自行登出
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		_ = c.conn.Close()
	}
}

// ClientCount 目前連線數
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount 房間內的連線數
func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
