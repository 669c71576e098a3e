// Package cache wraps redis: TTL-bounded caches for per-user translations
// and rendered chat history, plus the pub/sub channel used for cross-process
// message fan-out.
//
// The cache is a performance layer, not a correctness dependency. Every
// read/write failure degrades to cache-miss behavior and is logged, never
// returned to callers. Pub/sub failures only cost online recipients their
// real-time delivery; the message is still durably stored.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"linguachat/go-backend/internal/config"
)

const (
	// TranslationTTL bounds translation:{messageId}:{userId} entries.
	TranslationTTL = time.Hour
	// HistoryTTL bounds chat:{conversationId}:{userId} entries.
	HistoryTTL = 30 * time.Minute

	// MessageChannel carries delivery envelopes between processes.
	MessageChannel = "chat:messages"
)

// TranslationKey is the per-message-per-user translation cache key.
func TranslationKey(messageID, userID string) string {
	return fmt.Sprintf("translation:%s:%s", messageID, userID)
}

// HistoryKey is the per-conversation-per-user rendered history cache key.
func HistoryKey(conversationID, userID string) string {
	return fmt.Sprintf("chat:%s:%s", conversationID, userID)
}

// UserConversationsKey caches a user's conversation list.
func UserConversationsKey(userID string) string {
	return fmt.Sprintf("user:conversations:%s", userID)
}

// Entry is one key/value pair for batch writes.
type Entry struct {
	Key   string
	Value string
}

// Cache is the redis-backed cache and bus client.
type Cache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New creates a Cache from config. Connectivity is verified via Ping at
// daemon startup, not here.
func New(cfg config.RedisConfig, logger *zap.Logger) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{rdb: rdb, logger: logger}
}

// Ping verifies connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Get returns the cached value and whether it was present. Errors count as
// misses.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return val, true
}

// SetWithTTL writes a value with an expiry, best effort.
func (c *Cache) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// BatchSetWithTTL pipelines multiple writes with a shared expiry. The
// pipeline is best effort, not a transaction: one key failing must not
// abort the others.
func (c *Cache) BatchSetWithTTL(ctx context.Context, entries []Entry, ttl time.Duration) {
	if len(entries) == 0 {
		return
	}
	pipe := c.rdb.Pipeline()
	for _, e := range entries {
		pipe.Set(ctx, e.Key, e.Value, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("cache batch set failed", zap.Int("entries", len(entries)), zap.Error(err))
	}
}

// Delete removes keys, best effort. Used for invalidation: history entries
// are deleted, never updated in place.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// Publish sends a payload on a channel, best effort.
func (c *Cache) Publish(ctx context.Context, channel string, payload []byte) {
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		c.logger.Warn("publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// Subscribe returns a stream of payloads published on the channel and a
// stop function. Every process instance receives every payload and filters
// locally.
func (c *Cache) Subscribe(ctx context.Context, channel string) (<-chan []byte, func()) {
	sub := c.rdb.Subscribe(ctx, channel)
	out := make(chan []byte, 256)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()
	return out, func() { _ = sub.Close() }
}
