package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/conversation-sync/internal/config"
	"github.com/chirino/conversation-sync/internal/model"
	registrycache "github.com/chirino/conversation-sync/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ConversationCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CONVERSATION_SYNC_REDIS_URL is required")
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, cfg.CacheTTL)
}

// LoadFromURLWithTTL creates a cache from a redis:// URL with a default entry TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// RedisCache stores conversations as JSON values under "conversation:<threadId>".
type RedisCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func (c *RedisCache) Available() bool {
	return true
}

func (c *RedisCache) Get(ctx context.Context, threadID string) (*model.Conversation, error) {
	data, err := c.client.Get(ctx, registrycache.Key(threadID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *RedisCache) Set(ctx context.Context, conv model.Conversation, ttl time.Duration) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, registrycache.Key(conv.ThreadID), data, ttl).Err()
}

func (c *RedisCache) Remove(ctx context.Context, threadID string) error {
	return c.client.Del(ctx, registrycache.Key(threadID)).Err()
}

// Close closes the redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ registrycache.ConversationCache = (*RedisCache)(nil)
