package driver

import (
	"context"
	"fmt"
	"time"

	"clinic-chat/internal/platform/config"
	"clinic-chat/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

// InitRedis 初始化 Redis 連接.
func InitRedis(cfg config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	redisClient = client
	logger.Info(ctx, "Redis 連線成功", logger.WithDetails(map[string]interface{}{"addr": cfg.Addr, "db": cfg.DB}))
	return nil
}

// GetRedisClient 獲取 Redis 客戶端；未啟用時為 nil.
func GetRedisClient() *redis.Client {
	return redisClient
}

// PingRedis 檢查 Redis 連線.
func PingRedis(ctx context.Context) error {
	if redisClient == nil {
		return fmt.Errorf("Redis 未連線")
	}
	return redisClient.Ping(ctx).Err()
}

// CloseRedis 關閉 Redis 連接.
func CloseRedis() error {
	if redisClient == nil {
		return nil
	}
	err := redisClient.Close()
	redisClient = nil
	return err
}
