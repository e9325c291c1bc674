package message

import (
	"context"
	"os"
	"testing"
	"time"

	"clinic-chat/internal/chat"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// connectTestMongo 需要 MONGO_TEST_URL，否則跳過.
func connectTestMongo(t *testing.T) *mongo.Client {
	t.Helper()
	url := os.Getenv("MONGO_TEST_URL")
	if url == "" {
		t.Skip("跳過 MongoDB 測試：未設定 MONGO_TEST_URL")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(url))
	if err != nil {
		t.Fatalf("連接 MongoDB 失敗: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		t.Skipf("跳過 MongoDB 測試：無法連線 (%v)", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client
}

func newTestDatabase(t *testing.T, client *mongo.Client) *mongo.Database {
	t.Helper()
	db := client.Database("clinic_chat_test_" + uuid.NewString()[:8])
	if err := CreateIndexes(context.Background(), db); err != nil {
		t.Fatalf("創建索引失敗: %v", err)
	}
	t.Cleanup(func() { _ = db.Drop(context.Background()) })
	return db
}

func TestMongoStore(t *testing.T) {
	client := connectTestMongo(t)
	runStoreContract(t, func(t *testing.T) chat.Store {
		return NewMongoStore(newTestDatabase(t, client))
	})
}

func TestCreateIndexes(t *testing.T) {
	db := newTestDatabase(t, connectTestMongo(t))
	names, err := IndexNames(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"appointment_time_idx": false, "appointment_unread_idx": false, "sender_correlation_uniq": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, found := range want {
		if !found {
			t.Errorf("缺少索引 %s", n)
		}
	}
}

func TestMongoStore_UniqueCorrelationIndex(t *testing.T) {
	db := newTestDatabase(t, connectTestMongo(t))
	s := NewMongoStore(db)
	ctx := context.Background()

	m := textMessage("a1", "P", chat.RolePatient, "retry", base)
	m.ClientCorrelationID = "race"
	first := mustAppend(t, s, m)

	// 模擬兩個請求都通過了預先查詢：直接插入相同的鍵
	dup := toDocument(m)
	dup.ID = bson.NewObjectID()
	_, err := db.Collection(collectionName).InsertOne(ctx, dup)
	if !mongo.IsDuplicateKeyError(err) {
		t.Fatalf("預期唯一索引拒絕重複鍵，實際 %v", err)
	}

	again, created, err := s.Append(ctx, m)
	if err != nil || created || again.ID != first.ID {
		t.Fatalf("重試應回傳原訊息: %+v created=%v err=%v", again, created, err)
	}

	// 沒有 correlation ID 的訊息不受部分索引約束
	for i := 0; i < 2; i++ {
		plain := toDocument(textMessage("a1", "P", chat.RolePatient, "plain", base))
		plain.ID = bson.NewObjectID()
		if _, err := db.Collection(collectionName).InsertOne(ctx, plain); err != nil {
			t.Fatalf("無 correlation ID 的訊息應可重複寫入: %v", err)
		}
	}
}
