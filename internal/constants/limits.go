package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxMultipartMemory = 32 << 20 // 32MB
)

// 分頁相關常數
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// 訊息相關常數
const (
	DefaultMaxMessageLength = 5000
	PreviewMaxRunes         = 30
	MaxCorrelationIDLength  = 128
)

// 上傳相關常數
const (
	DefaultMaxImageBytes    = 5 << 20  // 5MB
	DefaultMaxDocumentBytes = 20 << 20 // 20MB
	DefaultThumbnailWidth   = 320
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute   = 120
	DefaultHistoryRateLimit     = 60
	DefaultUploadRateLimit      = 20
	RateLimitCleanupIntervalMin = 10 // 分鐘
)

// WebSocket 連線相關常數
const (
	DefaultWSMaxConnectionsPerIP = 10
	DefaultWSMaxTotalConnections = 5000
	DefaultWSSendPerSecond       = 5
	DefaultWSSendBurst           = 10
	DefaultWSSendBuffer          = 256
	DefaultWSMaxFrameBytes       = 64 << 10 // 64KB
	DefaultWSPingInterval        = 30       // 秒
	DefaultWSPongWait            = 60       // 秒
	DefaultWSWriteWait           = 10       // 秒
)

// 收件匣快取相關常數
const (
	DefaultInboxCacheTTL = 300 // 秒
)

// 用戶 ID 相關常數
const (
	MaxPrincipalIDLength = 100
)

// 加密相關常數
const (
	MasterKeyLength = 32 // 256 bits
)
