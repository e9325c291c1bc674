package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinic-chat/internal/chat"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore 以 MongoDB 實作的訊息存儲
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore 創建 MongoDB 訊息存儲
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(collectionName)}
}

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

func (s *MongoStore) findByCorrelation(ctx context.Context, senderID, correlationID string) (*chat.Message, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{
		"sender_id":             senderID,
		"client_correlation_id": correlationID,
	}).Decode(&doc)
	if err != nil {
		return nil, err
	}
	return doc.toMessage(), nil
}

// Append 寫入訊息；相同 (sender_id, client_correlation_id) 只會存在一筆
func (s *MongoStore) Append(ctx context.Context, m *chat.Message) (*chat.Message, bool, error) {
	if m.ClientCorrelationID != "" {
		existing, err := s.findByCorrelation(ctx, m.SenderID, m.ClientCorrelationID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, fmt.Errorf("lookup correlation id: %w", err)
		}
	}

	doc := toDocument(m)
	doc.ID = bson.NewObjectID()
	doc.Read = false
	doc.ReadAt = nil
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now()
	}

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		// 併發重試撞到唯一索引時回傳先寫入的那筆
		if mongo.IsDuplicateKeyError(err) && m.ClientCorrelationID != "" {
			existing, ferr := s.findByCorrelation(ctx, m.SenderID, m.ClientCorrelationID)
			if ferr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("insert message: %w", err)
	}
	return doc.toMessage(), true, nil
}

// Page 依 (created_at desc, _id desc) 分頁，多取一筆判斷 hasMore
func (s *MongoStore) Page(ctx context.Context, appointmentID string, q chat.PageQuery) (*chat.Page, error) {
	limit := chat.ClampLimit(q.Limit, 0, 0)

	filter := bson.M{"appointment_id": appointmentID}
	if !q.Before.IsZero() {
		if q.Before.ID != "" {
			oid, err := bson.ObjectIDFromHex(q.Before.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", chat.ErrInvalidCursor, err)
			}
			filter["$or"] = bson.A{
				bson.M{"created_at": bson.M{"$lt": q.Before.Time}},
				bson.M{"created_at": q.Before.Time, "_id": bson.M{"$lt": oid}},
			}
		} else {
			filter["created_at"] = bson.M{"$lt": q.Before.Time}
		}
	}

	opts := options.Find().
		SetSort(newestFirst).
		SetLimit(int64(limit + 1))

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	fetched := make([]*chat.Message, 0, len(docs))
	for i := range docs {
		fetched = append(fetched, docs[i].toMessage())
	}
	return chat.NewPage(fetched, limit), nil
}

// MessageByID 依 ID 取得訊息
func (s *MongoStore) MessageByID(ctx context.Context, id string) (*chat.Message, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, chat.ErrMessageNotFound
	}
	var doc document
	err = s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, chat.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toMessage(), nil
}

func unreadFilter(appointmentIDs []string, viewer chat.Role) bson.M {
	return bson.M{
		"appointment_id": bson.M{"$in": appointmentIDs},
		"sender_role":    string(viewer.Counterpart()),
		"read":           false,
	}
}

// MarkRead 將對方的未讀訊息標記為已讀
func (s *MongoStore) MarkRead(ctx context.Context, appointmentID string, reader chat.Role, at time.Time) (int64, error) {
	res, err := s.collection.UpdateMany(ctx,
		bson.M{
			"appointment_id": appointmentID,
			"sender_role":    string(reader.Counterpart()),
			"read":           false,
		},
		bson.M{"$set": bson.M{"read": true, "read_at": at}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.ModifiedCount, nil
}

// UnreadCount 多個預約中對方未讀訊息的總數
func (s *MongoStore) UnreadCount(ctx context.Context, appointmentIDs []string, viewer chat.Role) (int64, error) {
	if len(appointmentIDs) == 0 {
		return 0, nil
	}
	n, err := s.collection.CountDocuments(ctx, unreadFilter(appointmentIDs, viewer))
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// UnreadByAppointment 依預約分組的未讀數
func (s *MongoStore) UnreadByAppointment(ctx context.Context, appointmentIDs []string, viewer chat.Role) (map[string]int64, error) {
	out := make(map[string]int64, len(appointmentIDs))
	if len(appointmentIDs) == 0 {
		return out, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: unreadFilter(appointmentIDs, viewer)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$appointment_id"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate unread: %w", err)
	}
	var rows []struct {
		AppointmentID string `bson:"_id"`
		Count         int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode unread: %w", err)
	}
	for _, r := range rows {
		out[r.AppointmentID] = r.Count
	}
	return out, nil
}

// LastMessage 預約中最新的訊息；沒有訊息時回傳 nil
func (s *MongoStore) LastMessage(ctx context.Context, appointmentID string) (*chat.Message, error) {
	var doc document
	err := s.collection.FindOne(ctx,
		bson.M{"appointment_id": appointmentID},
		options.FindOne().SetSort(newestFirst),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message: %w", err)
	}
	return doc.toMessage(), nil
}
