package server

import (
	"net/http"
	"time"

	"clinic-chat/internal/chat"
	"clinic-chat/internal/constants"
	"clinic-chat/internal/inbox"
	"clinic-chat/internal/media"
	"clinic-chat/internal/platform/config"
	"clinic-chat/internal/platform/health"
	"clinic-chat/internal/platform/middleware"
	"clinic-chat/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 路由需要的服務
type Deps struct {
	Chat     *chat.Service
	Inbox    *inbox.Aggregator
	Media    *media.Service
	Realtime *realtime.Handler
	Auth     *middleware.JWTMiddleware
	Health   *health.Handler

	Limits         config.LimitsConfig
	AllowedOrigins []string
	// LocalMediaDir 非空時以 /media 提供本機附件
	LocalMediaDir string
}

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		c.Next()
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowed[origin] || allowed["*"] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Router 設定路由
func Router(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(d.AllowedOrigins))
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.AccessLogMiddleware())
	r.Use(securityHeadersMiddleware())
	r.Use(middleware.RequestMetadataMiddleware())

	r.MaxMultipartMemory = constants.DefaultMaxMultipartMemory
	if d.Limits.Request.MaxMultipartMemory > 0 {
		r.MaxMultipartMemory = d.Limits.Request.MaxMultipartMemory
	}

	if d.Health != nil {
		r.GET("/health", d.Health.HealthCheck)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if d.LocalMediaDir != "" {
		r.Static("/media", d.LocalMediaDir)
	}

	if d.Realtime != nil {
		r.GET("/ws", d.Realtime.ServeWS)
	}

	h := &handlers{deps: d}
	api := r.Group("/api/v1")
	api.Use(d.Auth.GinMiddleware())
	if rl := d.Limits.RateLimiting; rl.Enabled {
		limiter := middleware.NewPerEndpointRateLimiter(orDefault(rl.DefaultPerMinute, constants.DefaultRateLimitPerMinute))
		limiter.SetLimit("/api/v1/messages/:appointmentId", orDefault(rl.HistoryPerMin, constants.DefaultHistoryRateLimit))
		limiter.SetLimit("/api/v1/upload/chat-file", orDefault(rl.UploadPerMin, constants.DefaultUploadRateLimit))
		api.Use(limiter.Middleware())
	}

	api.GET("/messages/:appointmentId", h.getHistory)
	api.GET("/inbox", h.getInbox)
	api.GET("/unread-messages", h.getUnreadCount)
	if d.Media != nil {
		api.POST("/upload/chat-file",
			middleware.RequestSizeLimiter(d.Media.MaxBytes()+1<<20),
			h.uploadChatFile)
	}
	return r
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// NewHTTPServer 建立 HTTP 伺服器；WebSocket 需要長連接，不設寫入逾時
func NewHTTPServer(addr string, handler http.Handler, readTimeoutSeconds int) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(readTimeoutSeconds) * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
