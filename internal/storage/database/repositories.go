package database

import (
	"context"
	"fmt"

	"clinic-chat/internal/chat"
	"clinic-chat/internal/platform/config"
	"clinic-chat/internal/platform/logger"
	"clinic-chat/internal/storage/database/message"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Repositories 倉儲集合.
type Repositories struct {
	Messages chat.Store
}

// NewRepositories 依配置選擇存儲實作；mongo 需要已連線的資料庫.
func NewRepositories(ctx context.Context, cfg *config.Config, db *mongo.Database) (*Repositories, error) {
	switch cfg.Database.Driver {
	case "memory":
		logger.Warning(ctx, "使用記憶體訊息存儲，重啟後資料將遺失")
		return &Repositories{Messages: message.NewMemoryStore()}, nil
	case "", "mongo":
		if db == nil {
			return nil, fmt.Errorf("mongo 存儲需要資料庫連線")
		}
		// 索引失敗不中斷啟動，但唯一索引缺失時冪等寫入只剩預先查詢保護
		if err := message.CreateIndexes(ctx, db); err != nil {
			logger.Error(ctx, "創建訊息索引失敗", logger.WithError(err))
		}
		return &Repositories{Messages: message.NewMongoStore(db)}, nil
	}
	return nil, fmt.Errorf("不支援的資料庫驅動: %s", cfg.Database.Driver)
}
