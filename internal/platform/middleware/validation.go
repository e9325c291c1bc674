package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"clinic-chat/internal/constants"

	"github.com/gin-gonic/gin"
)

// ValidateAppointmentID 驗證預約 ID 格式
func ValidateAppointmentID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("預約 ID 不能為空")
	}
	if len(id) > constants.MaxPrincipalIDLength {
		return fmt.Errorf("預約 ID 格式錯誤")
	}
	// 防止 NULL 字符注入和 MongoDB 操作符
	if strings.ContainsAny(id, "\x00${}[]") {
		return fmt.Errorf("預約 ID 包含非法字符")
	}
	return nil
}

// SanitizeInput 消毒輸入（移除危險字符）
func SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	// 移除控制字符（除了換行和 Tab）
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}

// RequestSizeLimiter 限制請求體大小的中間件
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"message": fmt.Sprintf("請求體過大，最大允許 %d 字節", maxSize),
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
