package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestShouldShowError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"一般驗證錯誤", errors.New("body is required"), true},
		{"資料庫錯誤", errors.New("mongo: server selection timeout"), false},
		{"Redis 錯誤", errors.New("dial tcp: redis refused"), false},
		{"S3 錯誤", errors.New("S3 upload failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldShowError(tt.err); got != tt.want {
				t.Errorf("預期 %v，實際 %v", tt.want, got)
			}
		})
	}
}

func TestSafeErrorHidesInternals(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/inbox", nil)

	SafeError(c, http.StatusInternalServerError, errors.New("mongo: connection reset"), ProcessingFailed)

	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if w.Code != http.StatusInternalServerError || body["success"] != false || body["message"] != ProcessingFailed {
		t.Errorf("回應錯誤: %d %v", w.Code, body)
	}
}

func TestOKAndUnauthorized(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	OK(c, gin.H{"unreadCount": 3})

	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["success"] != true || body["unreadCount"] != float64(3) {
		t.Errorf("成功回應錯誤: %v", body)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	Unauthorized(c)
	body = nil
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if w.Code != http.StatusOK || body["success"] != false || body["message"] != "Unauthorized" {
		t.Errorf("未授權回應錯誤: %d %v", w.Code, body)
	}
}
