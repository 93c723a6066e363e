package local

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/conversation-sync/internal/config"
	"github.com/chirino/conversation-sync/internal/model"
	registrycache "github.com/chirino/conversation-sync/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
)

const defaultMaxEntries = 10_000

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrycache.ConversationCache, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil {
				return New(defaultMaxEntries, 0)
			}
			return New(cfg.LocalCacheMaxEntries, cfg.CacheTTL)
		},
	})
}

// LocalCache is an in-process cache bounded by entry count. Each conversation
// costs 1.
type LocalCache struct {
	cache *ristretto.Cache[string, model.Conversation]
	ttl   time.Duration
}

// New creates a cache holding at most maxEntries conversations.
func New(maxEntries int64, ttl time.Duration) (*LocalCache, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, model.Conversation]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	return &LocalCache{cache: c, ttl: ttl}, nil
}

func (c *LocalCache) Available() bool { return true }

func (c *LocalCache) Get(_ context.Context, threadID string) (*model.Conversation, error) {
	conv, ok := c.cache.Get(registrycache.Key(threadID))
	if !ok {
		return nil, nil
	}
	conv.Messages = append([]model.Message{}, conv.Messages...)
	return &conv, nil
}

func (c *LocalCache) Set(_ context.Context, conv model.Conversation, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	conv.Messages = append([]model.Message{}, conv.Messages...)
	c.cache.SetWithTTL(registrycache.Key(conv.ThreadID), conv, 1, ttl)
	// Make the write visible to the next Get.
	c.cache.Wait()
	return nil
}

func (c *LocalCache) Remove(_ context.Context, threadID string) error {
	c.cache.Del(registrycache.Key(threadID))
	return nil
}

// Close stops the cache's background goroutines.
func (c *LocalCache) Close() error {
	c.cache.Close()
	return nil
}

var _ registrycache.ConversationCache = (*LocalCache)(nil)
