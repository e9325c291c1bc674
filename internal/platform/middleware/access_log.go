package middleware

import (
	"time"

	"clinic-chat/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware 每個請求輸出一筆 GCP 格式的存取日誌
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// 以 request id 作為 trace id，串起同一請求的所有日誌
		if id := GetRequestID(c); id != "" {
			c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), id))
		}

		c.Next()

		status := c.Writer.Status()
		opts := []logger.LogOption{
			logger.WithHTTPRequest(&logger.HTTPRequest{
				RequestMethod: c.Request.Method,
				RequestURL:    c.Request.URL.Path,
				Status:        status,
				ResponseSize:  int64(c.Writer.Size()),
				UserAgent:     c.Request.UserAgent(),
				RemoteIP:      c.ClientIP(),
				Latency:       time.Since(start).String(),
				Protocol:      c.Request.Proto,
			}),
		}
		if p, ok := GetPrincipal(c); ok {
			opts = append(opts, logger.WithPrincipal(p.ID, string(p.Role)))
		}

		switch {
		case status >= 500:
			logger.Error(c.Request.Context(), "請求失敗", opts...)
		case status >= 400:
			logger.Warning(c.Request.Context(), "請求被拒絕", opts...)
		default:
			logger.Info(c.Request.Context(), "請求完成", opts...)
		}
	}
}
