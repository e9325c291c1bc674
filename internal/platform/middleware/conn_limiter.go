package middleware

import (
	"errors"
	"sync"
	"time"
)

// ErrTooManyConnections 連接數已達上限
var ErrTooManyConnections = errors.New("too many connections")

// ConnLimiter 即時連接限制器
type ConnLimiter struct {
	mu                sync.Mutex
	connections       map[string]int       // IP -> 連接數
	lastConnect       map[string]time.Time // IP -> 最後連接時間
	maxPerIP          int                  // 每個 IP 最大連接數
	minInterval       time.Duration        // 最小連接間隔
	maxTotalConns     int                  // 全局最大連接數
	currentTotalConns int                  // 當前總連接數
}

// NewConnLimiter 創建連接限制器
func NewConnLimiter(maxPerIP int, minInterval time.Duration, maxTotal int) *ConnLimiter {
	return &ConnLimiter{
		connections:   make(map[string]int),
		lastConnect:   make(map[string]time.Time),
		maxPerIP:      maxPerIP,
		minInterval:   minInterval,
		maxTotalConns: maxTotal,
	}
}

// Acquire 檢查並登記一個新連接
func (l *ConnLimiter) Acquire(ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxTotalConns > 0 && l.currentTotalConns >= l.maxTotalConns {
		return ErrTooManyConnections
	}
	if l.maxPerIP > 0 && l.connections[ip] >= l.maxPerIP {
		return ErrTooManyConnections
	}
	if last, ok := l.lastConnect[ip]; ok && l.minInterval > 0 && time.Since(last) < l.minInterval {
		return ErrTooManyConnections
	}

	l.connections[ip]++
	l.currentTotalConns++
	l.lastConnect[ip] = time.Now()
	return nil
}

// Release 移除連接
func (l *ConnLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, exists := l.connections[ip]
	if !exists {
		return
	}
	if count <= 1 {
		delete(l.connections, ip)
		delete(l.lastConnect, ip)
	} else {
		l.connections[ip]--
	}
	l.currentTotalConns--
}

// Stats 獲取統計信息
func (l *ConnLimiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"total_connections": l.currentTotalConns,
		"unique_ips":        len(l.connections),
		"max_total":         l.maxTotalConns,
		"max_per_ip":        l.maxPerIP,
	}
}
