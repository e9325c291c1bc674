package httputil

import (
	"clinic-chat/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// 錯誤訊息常數.
const (
	UnauthorizedMessage = "Unauthorized"
	InvalidParameter    = "Invalid parameter"
	ProcessingFailed    = "Processing failed"
	UpstreamFailed      = "Upstream service unavailable"
)

// OK 回傳 {success: true, ...} 回應.
func OK(c *gin.Context, body gin.H) {
	out := gin.H{"success": true}
	for k, v := range body {
		out[k] = v
	}
	c.JSON(200, out)
}

// Fail 回傳 {success: false, message} 回應.
func Fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"success":    false,
		"message":    message,
		"request_id": middleware.GetRequestID(c),
	})
}
