package message

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建訊息集合索引
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		// 分頁：預約內依 (時間, ID) 倒序
		{
			Keys: bson.D{
				{Key: "appointment_id", Value: 1},
				{Key: "created_at", Value: -1},
				{Key: "_id", Value: -1},
			},
			Options: options.Index().SetName("appointment_time_idx"),
		},
		// 未讀計數
		{
			Keys: bson.D{
				{Key: "appointment_id", Value: 1},
				{Key: "sender_role", Value: 1},
				{Key: "read", Value: 1},
			},
			Options: options.Index().SetName("appointment_unread_idx"),
		},
		// 冪等寫入：只約束帶有 correlation ID 的訊息
		{
			Keys: bson.D{
				{Key: "sender_id", Value: 1},
				{Key: "client_correlation_id", Value: 1},
			},
			Options: options.Index().
				SetName("sender_correlation_uniq").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"client_correlation_id": bson.M{"$type": "string"}}),
		},
	}

	_, err := db.Collection(collectionName).Indexes().CreateMany(ctx, indexes)
	return err
}

// IndexNames 列出訊息集合的索引名稱
func IndexNames(ctx context.Context, db *mongo.Database) ([]string, error) {
	cursor, err := db.Collection(collectionName).Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	var specs []bson.M
	if err := cursor.All(ctx, &specs); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		if name, ok := s["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}
