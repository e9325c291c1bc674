package httputil

import (
	"net/http"
	"strings"

	"clinic-chat/internal/platform/logger"
	"clinic-chat/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// SafeError 安全的錯誤響應（不洩露內部信息）
func SafeError(c *gin.Context, statusCode int, err error, userMessage string) {
	requestID := middleware.GetRequestID(c)

	logger.Error(c.Request.Context(), "API 錯誤",
		logger.WithError(err),
		logger.WithDetails(map[string]interface{}{
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"status":     statusCode,
		}))

	message := userMessage
	if shouldShowError(err) {
		message = err.Error()
	}
	Fail(c, statusCode, message)
}

// shouldShowError 判斷是否可以向用戶顯示錯誤詳情
func shouldShowError(err error) bool {
	if err == nil {
		return false
	}

	// 不應顯示的錯誤關鍵字（可能洩露敏感信息）
	dangerousKeywords := []string{
		"mongo",
		"database",
		"connection",
		"password",
		"token",
		"secret",
		"credential",
		"grpc",
		"redis",
		"s3",
		"internal",
		"stack",
		"panic",
	}

	lowerMsg := strings.ToLower(err.Error())
	for _, keyword := range dangerousKeywords {
		if strings.Contains(lowerMsg, keyword) {
			return false
		}
	}
	return true
}

// InternalServerError 內部服務器錯誤
func InternalServerError(c *gin.Context, err error) {
	SafeError(c, http.StatusInternalServerError, err, ProcessingFailed)
}

// BadGateway 上游服務（目錄、存儲）錯誤
func BadGateway(c *gin.Context, err error) {
	SafeError(c, http.StatusBadGateway, err, UpstreamFailed)
}

// BadRequest 錯誤的請求
func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, message)
}

// Unauthorized 非預約參與者；以 200 回應讓前端統一處理
func Unauthorized(c *gin.Context) {
	Fail(c, http.StatusOK, UnauthorizedMessage)
}
