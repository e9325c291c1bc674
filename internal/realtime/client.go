package realtime

import (
	"sync"

	"clinic-chat/internal/chat"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Conn 抽象 WebSocket 連線以便測試
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client 單一 WebSocket 連線
// 身份在握手時決定，之後不再信任客戶端提供的身份
type Client struct {
	ID        string
	Principal chat.Principal

	send    chan []byte
	conn    Conn
	rooms   map[string]struct{} // 由 Hub.mu 保護
	limiter *rate.Limiter

	closeOnce sync.Once
}

// NewClient 創建連線
func NewClient(p chat.Principal, conn Conn, buffer int, limiter *rate.Limiter) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Client{
		ID:        uuid.New().String(),
		Principal: p,
		send:      make(chan []byte, buffer),
		conn:      conn,
		rooms:     make(map[string]struct{}),
		limiter:   limiter,
	}
}

// Send 發送通道，Unregister 後關閉
func (c *Client) Send() <-chan []byte {
	return c.send
}

func (c *Client) closeSlow() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}
