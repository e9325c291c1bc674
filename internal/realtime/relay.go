package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"clinic-chat/internal/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRelay 透過 Redis pub/sub 將事件轉送到其他節點
type RedisRelay struct {
	client  *redis.Client
	channel string
	nodeID  string
	hub     *Hub
}

type relayEnvelope struct {
	Node  string          `json:"node"`
	Room  string          `json:"room"`
	Frame json.RawMessage `json:"frame"`
}

// NewRedisRelay 創建跨節點轉送
func NewRedisRelay(client *redis.Client, channel string, hub *Hub) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		nodeID:  uuid.New().String(),
		hub:     hub,
	}
}

// NodeID 本節點 ID
func (r *RedisRelay) NodeID() string {
	return r.nodeID
}

// Publish 發布已在本機送出的訊框
func (r *RedisRelay) Publish(ctx context.Context, room string, frame []byte) error {
	payload, err := json.Marshal(relayEnvelope{Node: r.nodeID, Room: room, Frame: frame})
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Run 訂閱頻道直到 ctx 結束
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	logger.Info(ctx, "跨節點轉送已啟動", logger.WithDetails(map[string]interface{}{
		"channel": r.channel,
		"node":    r.nodeID,
	}))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, []byte(msg.Payload))
		}
	}
}

// handle 只投遞其他節點的事件
func (r *RedisRelay) handle(ctx context.Context, payload []byte) bool {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.Warning(ctx, "無法解析轉送事件", logger.WithError(err))
		return false
	}
	if env.Node == r.nodeID || env.Room == "" {
		return false
	}
	r.hub.Deliver(env.Room, env.Frame)
	return true
}
