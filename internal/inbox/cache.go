package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"clinic-chat/internal/chat"

	"github.com/redis/go-redis/v9"
)

// LastMessageCache 每個預約最新訊息的快取
//
// 每次失效都會推進該預約的世代；讀取存儲前先取得世代，
// Fill 只在世代未變時寫入，避免較舊的讀取結果覆蓋失效。
type LastMessageCache interface {
	Get(ctx context.Context, appointmentID string) (*chat.Message, bool, error)
	Generation(ctx context.Context, appointmentID string) (int64, error)
	Fill(ctx context.Context, appointmentID string, generation int64, m *chat.Message) (bool, error)
	Invalidate(ctx context.Context, appointmentID string) error
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) (*chat.Message, bool, error) { return nil, false, nil }
func (nopCache) Generation(context.Context, string) (int64, error)        { return 0, nil }
func (nopCache) Fill(context.Context, string, int64, *chat.Message) (bool, error) {
	return false, nil
}
func (nopCache) Invalidate(context.Context, string) error { return nil }

type cacheEntry struct {
	message   *chat.Message
	expiresAt time.Time
}

// MemoryCache 單節點的記憶體快取
type MemoryCache struct {
	mu          sync.RWMutex
	entries     map[string]cacheEntry
	generations map[string]int64
	ttl         time.Duration
	now         func() time.Time
}

// NewMemoryCache 創建記憶體快取；ttl <= 0 表示不過期
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries:     make(map[string]cacheEntry),
		generations: make(map[string]int64),
		ttl:         ttl,
		now:         time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, appointmentID string) (*chat.Message, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[appointmentID]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, appointmentID)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.message.Clone(), true, nil
}

func (c *MemoryCache) Generation(_ context.Context, appointmentID string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[appointmentID], nil
}

func (c *MemoryCache) Fill(_ context.Context, appointmentID string, generation int64, m *chat.Message) (bool, error) {
	e := cacheEntry{message: m.Clone()}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[appointmentID] != generation {
		return false, nil
	}
	c.entries[appointmentID] = e
	return true, nil
}

func (c *MemoryCache) Invalidate(_ context.Context, appointmentID string) error {
	c.mu.Lock()
	c.generations[appointmentID]++
	delete(c.entries, appointmentID)
	c.mu.Unlock()
	return nil
}

// generationTTL 世代鍵的保留時間，需遠大於一次存儲讀取
const generationTTL = 24 * time.Hour

// RedisCache 多節點共用的快取
// 鍵為 inbox:last:{appointmentId}，世代為 inbox:gen:{appointmentId}
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache 創建 Redis 快取
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(appointmentID string) string {
	return "inbox:last:" + appointmentID
}

func generationKey(appointmentID string) string {
	return "inbox:gen:" + appointmentID
}

func (c *RedisCache) Get(ctx context.Context, appointmentID string) (*chat.Message, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(appointmentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var m chat.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, fmt.Errorf("decode cached message: %w", err)
	}
	return &m, true, nil
}

func (c *RedisCache) Generation(ctx context.Context, appointmentID string) (int64, error) {
	return readGeneration(ctx, c.client, appointmentID)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, r stringGetter, appointmentID string) (int64, error) {
	gen, err := r.Get(ctx, generationKey(appointmentID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Fill 以 WATCH 世代鍵的交易寫入；期間若有失效則放棄
func (c *RedisCache) Fill(ctx context.Context, appointmentID string, generation int64, m *chat.Message) (bool, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("encode cached message: %w", err)
	}

	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, appointmentID)
		if err != nil {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(appointmentID), raw, c.ttl)
			return nil
		})
		stored = err == nil
		return err
	}, generationKey(appointmentID))
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return stored, err
}

func (c *RedisCache) Invalidate(ctx context.Context, appointmentID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(appointmentID))
		pipe.Expire(ctx, generationKey(appointmentID), generationTTL)
		pipe.Del(ctx, cacheKey(appointmentID))
		return nil
	})
	return err
}
