package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 應用程式配置結構.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Media     MediaConfig     `mapstructure:"media"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
	Limits    LimitsConfig    `mapstructure:"limits"`
}

// AppConfig 應用程式基本配置.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
}

// ServerConfig 伺服器配置.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	Timeout        int      `mapstructure:"timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig 資料庫配置.
type DatabaseConfig struct {
	// Driver 為 mongo 或 memory（僅開發/測試）.
	Driver string      `mapstructure:"driver"`
	Mongo  MongoConfig `mapstructure:"mongo"`
}

// MongoConfig MongoDB 配置.
type MongoConfig struct {
	URL                    string `mapstructure:"url"`
	Database               string `mapstructure:"database"`
	Username               string `mapstructure:"username"`
	Password               string `mapstructure:"password"`
	MaxPoolSize            uint64 `mapstructure:"max_pool_size"`
	MinPoolSize            uint64 `mapstructure:"min_pool_size"`
	MaxConnIdleTime        int    `mapstructure:"max_conn_idle_time"`
	ConnectTimeout         int    `mapstructure:"connect_timeout"`
	ServerSelectionTimeout int    `mapstructure:"server_selection_timeout"`
	TLSEnabled             bool   `mapstructure:"tls_enabled"`
	TLSCAFile              string `mapstructure:"tls_ca_file"`
	TLSCertFile            string `mapstructure:"tls_cert_file"`
	TLSKeyFile             string `mapstructure:"tls_key_file"`
	TLSInsecureSkipVerify  bool   `mapstructure:"tls_insecure_skip_verify"`
}

// RedisConfig Redis 配置（跨節點事件轉發與收件匣快取）.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// KafkaConfig Kafka 事件串流配置.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// DirectoryConfig 預約目錄配置.
type DirectoryConfig struct {
	// Driver 為 static 或 grpc.
	Driver       string              `mapstructure:"driver"`
	Host         string              `mapstructure:"host"`
	Port         string              `mapstructure:"port"`
	TimeoutMS    int                 `mapstructure:"timeout_ms"`
	Appointments []AppointmentConfig `mapstructure:"appointments"`
}

// AppointmentConfig 靜態預約資料.
type AppointmentConfig struct {
	ID          string      `mapstructure:"id"`
	Patient     PartyConfig `mapstructure:"patient"`
	Doctor      PartyConfig `mapstructure:"doctor"`
	ScheduledAt string      `mapstructure:"scheduled_at"`
}

// PartyConfig 預約參與者.
type PartyConfig struct {
	ID     string `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	Avatar string `mapstructure:"avatar"`
}

// MediaConfig 附件儲存配置.
type MediaConfig struct {
	// Driver 為 s3 或 local.
	Driver         string      `mapstructure:"driver"`
	ThumbnailWidth int         `mapstructure:"thumbnail_width"`
	S3             S3Config    `mapstructure:"s3"`
	Local          LocalConfig `mapstructure:"local"`
}

// S3Config S3 配置.
type S3Config struct {
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// LocalConfig 本機檔案儲存配置.
type LocalConfig struct {
	Dir     string `mapstructure:"dir"`
	BaseURL string `mapstructure:"base_url"`
}

// LogConfig 日誌配置.
type LogConfig struct {
	RotationTimeHours int `mapstructure:"rotation_time_hours"` // 日誌輪轉時間 (小時).
	MaxAgeDays        int `mapstructure:"max_age_days"`        // 日誌保留天數.
	MaxSizeMB         int `mapstructure:"max_size_mb"`         // 單個日誌檔案最大大小 (MB).
}

// SecurityConfig 安全配置.
type SecurityConfig struct {
	TLS            TLSConfig            `mapstructure:"tls"`
	Authentication AuthenticationConfig `mapstructure:"authentication"`
	Encryption     EncryptionConfig     `mapstructure:"encryption"`
	Audit          AuditConfig          `mapstructure:"audit"`
}

// TLSConfig TLS 配置（預約目錄 gRPC 連線）.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

// AuthenticationConfig 認證配置.
type AuthenticationConfig struct {
	JWTEnabled bool   `mapstructure:"jwt_enabled"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	Issuer     string `mapstructure:"issuer"`
}

// EncryptionConfig 訊息靜態加密配置.
type EncryptionConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuditConfig 審計配置.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LimitsConfig 限制配置.
type LimitsConfig struct {
	Request      RequestLimitsConfig    `mapstructure:"request"`
	RateLimiting RateLimitingConfig     `mapstructure:"rate_limiting"`
	Realtime     RealtimeLimitsConfig   `mapstructure:"realtime"`
	Pagination   PaginationLimitsConfig `mapstructure:"pagination"`
	Message      MessageLimitsConfig    `mapstructure:"message"`
	Upload       UploadLimitsConfig     `mapstructure:"upload"`
	Inbox        InboxLimitsConfig      `mapstructure:"inbox"`
}

// RequestLimitsConfig 請求限制配置.
type RequestLimitsConfig struct {
	MaxMultipartMemory int64 `mapstructure:"max_multipart_memory"`
}

// RateLimitingConfig Rate Limiting 配置.
type RateLimitingConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	DefaultPerMinute int  `mapstructure:"default_per_minute"`
	HistoryPerMin    int  `mapstructure:"history_per_minute"`
	UploadPerMin     int  `mapstructure:"upload_per_minute"`
}

// RealtimeLimitsConfig WebSocket 連線限制配置.
type RealtimeLimitsConfig struct {
	MaxConnectionsPerIP int     `mapstructure:"max_connections_per_ip"`
	MaxTotalConnections int     `mapstructure:"max_total_connections"`
	SendPerSecond       float64 `mapstructure:"send_per_second"`
	SendBurst           int     `mapstructure:"send_burst"`
	SendBuffer          int     `mapstructure:"send_buffer"`
	MaxFrameBytes       int64   `mapstructure:"max_frame_bytes"`
	PingIntervalSeconds int     `mapstructure:"ping_interval_seconds"`
	PongWaitSeconds     int     `mapstructure:"pong_wait_seconds"`
	WriteWaitSeconds    int     `mapstructure:"write_wait_seconds"`
}

// PaginationLimitsConfig 分頁限制配置.
type PaginationLimitsConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// MessageLimitsConfig 訊息限制配置.
type MessageLimitsConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

// UploadLimitsConfig 上傳限制配置.
type UploadLimitsConfig struct {
	MaxImageBytes    int64 `mapstructure:"max_image_bytes"`
	MaxDocumentBytes int64 `mapstructure:"max_document_bytes"`
}

// InboxLimitsConfig 收件匣快取配置.
type InboxLimitsConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

var (
	config *Config
	// ENV 當前環境變數.
	ENV string = "local"
)

// Load 載入設定檔.
func Load(testCfg ...*Config) error {
	// 直接傳入配置（主要用於測試）
	if len(testCfg) > 0 && testCfg[0] != nil {
		config = testCfg[0]
		if err := validateConfig(config); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}
		return nil
	}

	v := viper.New()

	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
		baseName := filepath.Base(configPath)
		ENV = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	} else {
		v.SetConfigName(ENV)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	// 允許以 CLINIC_CHAT_ 前綴的環境變數覆蓋，例如 CLINIC_CHAT_REDIS_ADDR
	v.SetEnvPrefix("CLINIC_CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("讀取配置檔案失敗: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("解析配置失敗: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("配置驗證失敗: %w", err)
	}
	config = cfg

	return nil
}

// Get 取得設定.
func Get() *Config {
	return config
}

// SetEnv 設定環境.
func SetEnv(env string) {
	ENV = env
}

// GetEnv 取得當前環境.
func GetEnv() string {
	return ENV
}

// validateConfig 驗證配置的有效性
func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("應用程式名稱不能為空")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("應用程式版本不能為空")
	}

	if cfg.Server.Port == "" {
		return fmt.Errorf("伺服器端口不能為空")
	}
	if cfg.Server.Timeout <= 0 {
		return fmt.Errorf("伺服器超時時間必須大於 0")
	}

	switch cfg.Database.Driver {
	case "", "mongo":
		if cfg.Database.Mongo.URL == "" {
			return fmt.Errorf("MongoDB URL 不能為空")
		}
		if cfg.Database.Mongo.Database == "" {
			return fmt.Errorf("MongoDB 資料庫名稱不能為空")
		}
		if cfg.Database.Mongo.MaxPoolSize == 0 {
			return fmt.Errorf("MongoDB 最大連接池大小必須大於 0")
		}
		if cfg.Database.Mongo.MinPoolSize > cfg.Database.Mongo.MaxPoolSize {
			return fmt.Errorf("MongoDB 最小連接池大小不能大於最大連接池大小")
		}
	case "memory":
	default:
		return fmt.Errorf("不支援的資料庫驅動: %s", cfg.Database.Driver)
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("啟用 Redis 時位址不能為空")
	}
	if cfg.Kafka.Enabled && (len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "") {
		return fmt.Errorf("啟用 Kafka 時 brokers 與 topic 不能為空")
	}

	switch cfg.Directory.Driver {
	case "", "static":
	case "grpc":
		if cfg.Directory.Host == "" || cfg.Directory.Port == "" {
			return fmt.Errorf("預約目錄 gRPC 位址不能為空")
		}
	default:
		return fmt.Errorf("不支援的預約目錄驅動: %s", cfg.Directory.Driver)
	}

	switch cfg.Media.Driver {
	case "", "local":
	case "s3":
		if cfg.Media.S3.Bucket == "" || cfg.Media.S3.Region == "" {
			return fmt.Errorf("S3 bucket 與 region 不能為空")
		}
	default:
		return fmt.Errorf("不支援的附件儲存驅動: %s", cfg.Media.Driver)
	}

	if cfg.Security.Authentication.JWTEnabled && cfg.Security.Authentication.JWTSecret == "" {
		return fmt.Errorf("啟用 JWT 時密鑰不能為空")
	}

	if cfg.Limits.Pagination.MaxPageSize > 0 && cfg.Limits.Pagination.DefaultPageSize > cfg.Limits.Pagination.MaxPageSize {
		return fmt.Errorf("預設分頁大小不能大於最大分頁大小")
	}

	if cfg.Log.RotationTimeHours < 0 || cfg.Log.MaxAgeDays < 0 || cfg.Log.MaxSizeMB < 0 {
		return fmt.Errorf("日誌輪轉設定不能為負數")
	}

	return nil
}

// IsDebug 檢查是否為除錯模式
func IsDebug() bool {
	if config != nil {
		return config.App.Debug
	}
	return false
}

// GetServerAddr 取得伺服器地址
func GetServerAddr() string {
	if config != nil {
		return fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	}
	return ":8080"
}

// DirectoryTimeout 取得預約目錄查詢逾時.
func DirectoryTimeout() time.Duration {
	if config != nil && config.Directory.TimeoutMS > 0 {
		return time.Duration(config.Directory.TimeoutMS) * time.Millisecond
	}
	return 3 * time.Second
}
