package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clinic-chat/internal/authz"
	"clinic-chat/internal/chat"
	"clinic-chat/internal/constants"
	"clinic-chat/internal/directory"
	"clinic-chat/internal/events"
	"clinic-chat/internal/grpcclient"
	"clinic-chat/internal/inbox"
	"clinic-chat/internal/media"
	"clinic-chat/internal/platform/config"
	"clinic-chat/internal/platform/driver"
	"clinic-chat/internal/platform/health"
	"clinic-chat/internal/platform/logger"
	"clinic-chat/internal/platform/middleware"
	"clinic-chat/internal/platform/server"
	"clinic-chat/internal/realtime"
	"clinic-chat/internal/security/audit"
	"clinic-chat/internal/security/encryption"
	"clinic-chat/internal/storage/database"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// loadMasterKey 載入主密鑰
// 從環境變量 MASTER_KEY 讀取 32 bytes 密鑰（base64 或 hex）
// 如果未設置，生成臨時隨機密鑰（開發環境）
func loadMasterKey(ctx context.Context) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv("MASTER_KEY"))
	if raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			key, err = hex.DecodeString(raw)
		}
		if err != nil {
			logger.Error(ctx, "Master Key 格式錯誤", logger.WithError(err))
			return nil, fmt.Errorf("invalid master key configuration")
		}
		if len(key) != constants.MasterKeyLength {
			logger.Error(ctx, "Master Key 長度錯誤", logger.WithDetails(map[string]interface{}{"expected": constants.MasterKeyLength, "got": len(key)}))
			return nil, fmt.Errorf("invalid master key configuration")
		}
		logger.Info(ctx, "[SUCCESS] 成功從環境變量載入主密鑰", logger.WithDetails(map[string]interface{}{
			"masked": fmt.Sprintf("%x****", key[:2]),
			"source": "MASTER_KEY environment variable",
		}))
		return key, nil
	}

	key := make([]byte, constants.MasterKeyLength)
	if _, err := rand.Read(key); err != nil {
		logger.Error(ctx, "無法生成隨機密鑰", logger.WithError(err))
		return nil, fmt.Errorf("master key initialization failed")
	}
	logger.Warning(ctx, "開發模式：使用臨時主密鑰（重啟後舊訊息將無法解密）",
		logger.WithDetails(map[string]interface{}{"masked": fmt.Sprintf("%x****", key[:2])}))
	logger.Info(ctx, "生成方式：export MASTER_KEY=$(openssl rand -base64 32)")
	return key, nil
}

// newDirectory 依配置選擇靜態或 gRPC 預約目錄
func newDirectory(ctx context.Context, cfg *config.Config) (directory.Directory, error) {
	if cfg.Directory.Driver != "grpc" {
		logger.Info(ctx, "使用靜態預約目錄", logger.WithDetails(map[string]interface{}{"appointments": len(cfg.Directory.Appointments)}))
		return directory.NewStaticFromConfig(cfg.Directory.Appointments)
	}
	conn, err := grpcclient.GetConnection(grpcclient.WithBearerToken(os.Getenv("DIRECTORY_TOKEN")))
	if err != nil {
		return nil, err
	}
	return directory.NewGRPCClient(conn, config.DirectoryTimeout()), nil
}

// newMediaStorage 依配置選擇 S3 或本機儲存；本機儲存回傳需要公開的目錄
func newMediaStorage(ctx context.Context, cfg config.MediaConfig) (media.Storage, string, error) {
	if cfg.Driver == "s3" {
		s, err := media.NewS3Store(ctx, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.PublicBaseURL)
		return s, "", err
	}
	dir := cfg.Local.Dir
	if dir == "" {
		dir = "./uploads"
	}
	base := cfg.Local.BaseURL
	if base == "" {
		base = "/media"
	}
	s, err := media.NewLocalStore(dir, base)
	if err != nil {
		return nil, "", err
	}
	return s, s.Dir(), nil
}

// checkOrigin 允許清單為空時只接受同源或無 Origin 的握手
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && len(allowed) == 0 && strings.EqualFold(u.Host, r.Host)
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// applyRealtimeDefaults 未配置的 WebSocket 限制使用預設值
func applyRealtimeDefaults(rt config.RealtimeLimitsConfig) config.RealtimeLimitsConfig {
	rt.MaxConnectionsPerIP = orDefault(rt.MaxConnectionsPerIP, constants.DefaultWSMaxConnectionsPerIP)
	rt.MaxTotalConnections = orDefault(rt.MaxTotalConnections, constants.DefaultWSMaxTotalConnections)
	rt.SendBurst = orDefault(rt.SendBurst, constants.DefaultWSSendBurst)
	rt.SendBuffer = orDefault(rt.SendBuffer, constants.DefaultWSSendBuffer)
	rt.PingIntervalSeconds = orDefault(rt.PingIntervalSeconds, constants.DefaultWSPingInterval)
	rt.PongWaitSeconds = orDefault(rt.PongWaitSeconds, constants.DefaultWSPongWait)
	rt.WriteWaitSeconds = orDefault(rt.WriteWaitSeconds, constants.DefaultWSWriteWait)
	if rt.SendPerSecond <= 0 {
		rt.SendPerSecond = constants.DefaultWSSendPerSecond
	}
	if rt.MaxFrameBytes <= 0 {
		rt.MaxFrameBytes = constants.DefaultWSMaxFrameBytes
	}
	return rt
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// 初始化日誌.
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 載入配置.
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	var checks []health.Check

	// 連接資料庫.
	var db *mongo.Database
	if cfg.Database.Driver != "memory" {
		if err := driver.ConnectMongo(); err != nil {
			return err
		}
		defer func() {
			if err := driver.CloseMongo(); err != nil {
				logger.Error(context.Background(), "關閉 MongoDB 連接失敗", logger.WithError(err))
			}
		}()
		db = driver.GetMongoDatabase()
		checks = append(checks, health.Check{Name: "mongodb", Ping: driver.PingMongo})
	}

	repos, err := database.NewRepositories(ctx, cfg, db)
	if err != nil {
		return err
	}

	dir, err := newDirectory(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "預約目錄初始化失敗", logger.WithError(err))
		return fmt.Errorf("directory initialization failed")
	}
	defer func() { _ = grpcclient.CloseConnection() }()

	var masterKey []byte
	if cfg.Security.Encryption.Enabled {
		if masterKey, err = loadMasterKey(ctx); err != nil {
			return err
		}
	}
	codec, err := encryption.NewMessageEncryption(cfg.Security.Encryption.Enabled, masterKey)
	if err != nil {
		logger.Error(ctx, "訊息加密初始化失敗", logger.WithError(err))
		return fmt.Errorf("encryption initialization failed")
	}

	auditor := audit.NewAuditService(cfg.Security.Audit.Enabled)

	var publisher events.Publisher = events.Nop{}
	if cfg.Kafka.Enabled {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Info(ctx, "Kafka 事件發布已啟用", logger.WithDetails(map[string]interface{}{"topic": cfg.Kafka.Topic}))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error(context.Background(), "關閉事件發布器失敗", logger.WithError(err))
		}
	}()

	hub := realtime.NewHub()
	defer hub.Close()

	cacheTTL := seconds(orDefault(cfg.Limits.Inbox.CacheTTLSeconds, constants.DefaultInboxCacheTTL))
	var cache inbox.LastMessageCache = inbox.NewMemoryCache(cacheTTL)
	if cfg.Redis.Enabled {
		if err := driver.InitRedis(cfg.Redis); err != nil {
			return err
		}
		defer func() {
			if err := driver.CloseRedis(); err != nil {
				logger.Error(context.Background(), "關閉 Redis 連接失敗", logger.WithError(err))
			}
		}()
		client := driver.GetRedisClient()
		cache = inbox.NewRedisCache(client, cacheTTL)
		relay := realtime.NewRedisRelay(client, cfg.Redis.Channel, hub)
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error(ctx, "跨節點事件轉發中斷", logger.WithError(err))
			}
		}()
		checks = append(checks, health.Check{Name: "redis", Ping: driver.PingRedis})
	}

	aggregator := inbox.NewAggregator(dir, repos.Messages, inbox.WithCache(cache), inbox.WithBodyCodec(codec))

	chatService := chat.NewService(repos.Messages, authz.New(dir).Gate(), dir,
		chat.WithNotifier(hub),
		chat.WithBodyCodec(codec),
		chat.WithEventPublisher(publisher),
		chat.WithAuditor(auditor),
		chat.WithInboxObserver(aggregator),
		chat.WithMaxBodyLength(cfg.Limits.Message.MaxLength),
		chat.WithPageSize(cfg.Limits.Pagination.DefaultPageSize, cfg.Limits.Pagination.MaxPageSize),
	)

	storage, localDir, err := newMediaStorage(ctx, cfg.Media)
	if err != nil {
		logger.Error(ctx, "附件儲存初始化失敗", logger.WithError(err))
		return fmt.Errorf("media storage initialization failed")
	}
	mediaService := media.NewService(storage, media.Limits{
		MaxImageBytes:    cfg.Limits.Upload.MaxImageBytes,
		MaxDocumentBytes: cfg.Limits.Upload.MaxDocumentBytes,
	}, cfg.Media.ThumbnailWidth, auditor)

	auth := middleware.NewJWTMiddleware(cfg.Security.Authentication.JWTSecret, cfg.Security.Authentication.Issuer, cfg.Security.Authentication.JWTEnabled)
	if !cfg.Security.Authentication.JWTEnabled {
		logger.Warning(ctx, "JWT 認證未啟用，身份取自開發用標頭或查詢參數")
	}

	rt := applyRealtimeDefaults(cfg.Limits.Realtime)
	connLimiter := middleware.NewConnLimiter(rt.MaxConnectionsPerIP, 0, rt.MaxTotalConnections)
	wsHandler := realtime.NewHandler(hub, chatService, auth.Authenticate, connLimiter, realtime.Options{
		SendPerSecond: rt.SendPerSecond,
		SendBurst:     rt.SendBurst,
		SendBuffer:    rt.SendBuffer,
		MaxFrameBytes: rt.MaxFrameBytes,
		PingInterval:  seconds(rt.PingIntervalSeconds),
		PongWait:      seconds(rt.PongWaitSeconds),
		WriteWait:     seconds(rt.WriteWaitSeconds),
		CheckOrigin:   checkOrigin(cfg.Server.AllowedOrigins),
	})

	router := server.Router(server.Deps{
		Chat:           chatService,
		Inbox:          aggregator,
		Media:          mediaService,
		Realtime:       wsHandler,
		Auth:           auth,
		Health:         health.NewHealthHandler(cfg.App.Name, cfg.App.Debug, checks...),
		Limits:         cfg.Limits,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		LocalMediaDir:  localDir,
	})

	logger.Info(ctx, "[System] 服務器啟動完成", logger.WithDetails(map[string]interface{}{
		"env":       config.GetEnv(),
		"directory": cfg.Directory.Driver,
		"database":  cfg.Database.Driver,
	}))

	if err := server.Serve(ctx, server.NewHTTPServer(config.GetServerAddr(), router, cfg.Server.Timeout)); err != nil {
		logger.Error(context.Background(), "HTTP 服務器異常結束", logger.WithError(err))
		return err
	}
	logger.Info(context.Background(), "正在關閉服務器...", logger.WithAction("shutdown"))
	return nil
}
