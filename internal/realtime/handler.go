package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"clinic-chat/internal/chat"
	"clinic-chat/internal/platform/logger"
	"clinic-chat/internal/platform/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ChatService 即時層需要的聊天操作
type ChatService interface {
	Join(ctx context.Context, p chat.Principal, appointmentID string) (*chat.Participant, error)
	Send(ctx context.Context, p chat.Principal, req chat.SendRequest) (*chat.Message, error)
}

// Authenticator 從握手請求取得已驗證的身份
type Authenticator func(r *http.Request) (chat.Principal, error)

// ConnGate 連線數限制
type ConnGate interface {
	Acquire(ip string) error
	Release(ip string)
}

// Options 單一連線的保護參數
type Options struct {
	SendPerSecond float64
	SendBurst     int
	SendBuffer    int
	MaxFrameBytes int64
	PingInterval  time.Duration
	PongWait      time.Duration
	WriteWait     time.Duration
	CheckOrigin   func(r *http.Request) bool
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 64 * 1024
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

// Handler WebSocket 端點
type Handler struct {
	hub      *Hub
	svc      ChatService
	auth     Authenticator
	gate     ConnGate
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler 創建 WebSocket 處理器；gate 可為 nil
func NewHandler(hub *Hub, svc ChatService, auth Authenticator, gate ConnGate, opts Options) *Handler {
	opts = opts.withDefaults()
	return &Handler{
		hub:  hub,
		svc:  svc,
		auth: auth,
		gate: gate,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
}

func (h *Handler) newLimiter() *rate.Limiter {
	if h.opts.SendPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := h.opts.SendBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(h.opts.SendPerSecond), burst)
}

// ServeWS 握手時驗證身份並加入收件匣房間
func (h *Handler) ServeWS(c *gin.Context) {
	p, err := h.auth(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
		return
	}

	ip := middleware.GetClientIP(c)
	if h.gate != nil {
		if err := h.gate.Acquire(ip); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "Too many connections"})
			return
		}
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.gate != nil {
			h.gate.Release(ip)
		}
		logger.Warning(c.Request.Context(), "WebSocket 升級失敗", logger.WithError(err))
		return
	}

	client := NewClient(p, ws, h.opts.SendBuffer, h.newLimiter())
	if !h.hub.Register(client) {
		if h.gate != nil {
			h.gate.Release(ip)
		}
		return
	}
	h.hub.Join(client, p.InboxRoom())

	// 升級後請求的 context 即結束，連線使用獨立的 context
	ctx := logger.WithTraceID(context.Background(), client.ID)
	logger.Info(ctx, "WebSocket 已連線", logger.WithPrincipal(p.ID, string(p.Role)))

	go h.writePump(client, ws)
	go func() {
		h.readPump(ctx, client, ws)
		h.hub.Unregister(client)
		if h.gate != nil {
			h.gate.Release(ip)
		}
		logger.Info(ctx, "WebSocket 已斷線", logger.WithPrincipal(p.ID, string(p.Role)))
	}()
}

func (h *Handler) readPump(ctx context.Context, c *Client, ws *websocket.Conn) {
	defer ws.Close()

	ws.SetReadLimit(h.opts.MaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug(ctx, "WebSocket 讀取結束", logger.WithError(err))
			}
			return
		}
		h.dispatch(ctx, c, data)
	}
}

func (h *Handler) writePump(c *Client, ws *websocket.Conn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, c *Client, data []byte) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		h.reply(ctx, c, EventError, "", gin.H{"error": "malformed frame"})
		return
	}

	switch in.Event {
	case EventJoinAppointment:
		h.join(ctx, c, in)
	case EventSendMessage:
		h.send(ctx, c, in)
	default:
		h.reply(ctx, c, EventError, in.AckID, gin.H{"error": "unknown event"})
	}
}

// join 未授權時不回應任何內容
func (h *Handler) join(ctx context.Context, c *Client, in Inbound) {
	var req JoinData
	if err := json.Unmarshal(in.Data, &req); err != nil || req.AppointmentID == "" {
		return
	}
	part, err := h.svc.Join(ctx, c.Principal, req.AppointmentID)
	if err != nil {
		if !errors.Is(err, chat.ErrUnauthorized) {
			logger.Warning(ctx, "加入預約房間失敗",
				logger.WithPrincipal(c.Principal.ID, string(c.Principal.Role)),
				logger.WithAppointmentID(req.AppointmentID),
				logger.WithError(err))
		}
		return
	}
	h.hub.Join(c, chat.AppointmentRoom(part.AppointmentID()))
}

func (h *Handler) send(ctx context.Context, c *Client, in Inbound) {
	if !c.limiter.Allow() {
		h.reply(ctx, c, EventAck, in.AckID, AckData{OK: false, Error: "rate limited"})
		return
	}

	var req chat.SendRequest
	if err := json.Unmarshal(in.Data, &req); err != nil {
		h.reply(ctx, c, EventAck, in.AckID, AckData{OK: false, Error: "malformed payload"})
		return
	}

	m, err := h.svc.Send(ctx, c.Principal, req)
	if err != nil {
		h.reply(ctx, c, EventAck, in.AckID, AckData{OK: false, Error: sendError(ctx, c, req, err)})
		return
	}
	h.reply(ctx, c, EventAck, in.AckID, AckData{OK: true, Message: m})
}

func sendError(ctx context.Context, c *Client, req chat.SendRequest, err error) string {
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, chat.ErrInvalidMessage):
		return err.Error()
	default:
		logger.Error(ctx, "發送訊息失敗",
			logger.WithPrincipal(c.Principal.ID, string(c.Principal.Role)),
			logger.WithAppointmentID(req.AppointmentID),
			logger.WithError(err))
		return "send failed"
	}
}

func (h *Handler) reply(ctx context.Context, c *Client, event, ackID string, data interface{}) {
	frame, err := encodeFrame(event, ackID, data)
	if err != nil {
		logger.Error(ctx, "回應編碼失敗", logger.WithAction(event), logger.WithError(err))
		return
	}
	h.hub.SendTo(c, frame)
}
