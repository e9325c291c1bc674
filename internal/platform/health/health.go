package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"clinic-chat/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	// 健康狀態常數.
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusWarning   = "warning"
	statusDegraded  = "degraded"

	// 記憶體相關常數.
	memoryMB        = 1024 * 1024
	memoryThreshold = 1024 // 1GB

	checkTimeout = 5 * time.Second
)

// Check 依賴服務的連線檢查.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler 健康檢查處理器.
type Handler struct {
	appName string
	debug   bool
	checks  []Check
}

// NewHealthHandler 創建新的健康檢查處理器.
func NewHealthHandler(appName string, debug bool, checks ...Check) *Handler {
	return &Handler{appName: appName, debug: debug, checks: checks}
}

// HealthCheck 健康檢查端點.
// 依賴服務異常時整體為 degraded，但仍回傳 200，讓監控系統知道服務本身正常.
func (h *Handler) HealthCheck(c *gin.Context) {
	overall := statusHealthy
	deps := gin.H{}
	for _, check := range h.checks {
		status, errMsg := statusHealthy, ""
		if err := h.ping(c.Request.Context(), check); err != nil {
			status, errMsg = statusUnhealthy, err.Error()
			overall = statusDegraded
			logger.Warning(c.Request.Context(), "健康檢查失敗",
				logger.WithAction(check.Name), logger.WithError(err))
		}
		deps[check.Name] = gin.H{"status": status, "error": errMsg}
	}

	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = "NO_VERSION_SET"
	}

	systemStatus := h.checkSystemResources()
	c.JSON(http.StatusOK, gin.H{
		"status":    overall,
		"timestamp": time.Now().Unix(),
		"app": gin.H{
			"name":    h.appName,
			"version": appVersion,
			"debug":   h.debug,
		},
		"dependencies": deps,
		"system": gin.H{
			"status":  systemStatus.Status,
			"details": systemStatus.Details,
			"uptime":  time.Since(startTime).String(),
		},
	})
}

func (h *Handler) ping(parent context.Context, check Check) (err error) {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s check panicked: %v", check.Name, r)
		}
	}()
	return check.Ping(ctx)
}

// SystemStatus 系統狀態.
type SystemStatus struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details"`
}

// checkSystemResources 檢查系統資源.
func (h *Handler) checkSystemResources() SystemStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	details := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":       fmt.Sprintf("%.2f MB", float64(m.Alloc)/memoryMB),
			"total_alloc": fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/memoryMB),
			"sys":         fmt.Sprintf("%.2f MB", float64(m.Sys)/memoryMB),
			"num_gc":      m.NumGC,
		},
		"cpu": gin.H{
			"num_cpu": runtime.NumCPU(),
		},
	}

	status := statusHealthy
	if m.Sys/memoryMB > memoryThreshold {
		status = statusWarning
		details["memory_warning"] = "Memory usage is high"
	}
	return SystemStatus{Status: status, Details: details}
}

// 記錄服務啟動時間.
var startTime = time.Now()
