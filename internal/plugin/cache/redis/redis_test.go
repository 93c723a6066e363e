package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/conversation-sync/internal/config"
	"github.com/chirino/conversation-sync/internal/model"
	"github.com/chirino/conversation-sync/internal/plugin/cache/redis"
	registrycache "github.com/chirino/conversation-sync/internal/registry/cache"
	"github.com/chirino/conversation-sync/internal/testutil/testredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	url := testredis.StartRedis(t)

	cfg := config.DefaultConfig()
	cfg.RedisURL = url
	ctx := config.WithContext(context.Background(), &cfg)

	loader, err := registrycache.Select("redis")
	require.NoError(t, err)
	c, err := loader(ctx)
	require.NoError(t, err)
	require.True(t, c.Available())

	miss, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, miss)

	now := time.Now().UTC().Truncate(time.Millisecond)
	conv := model.Conversation{
		ThreadID:  "t1",
		Title:     "Cached",
		Messages:  []model.Message{{ID: "m1", Role: model.RoleUser, Content: "Hello", Timestamp: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, c.Set(ctx, conv, 0))

	got, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Cached", got.Title)
	assert.Equal(t, "Hello", got.Messages[0].Content)
	assert.True(t, now.Equal(got.CreatedAt))

	require.NoError(t, c.Remove(ctx, "t1"))
	got, err = c.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.(*redis.RedisCache).Close())
}

func TestRedisRequiresURL(t *testing.T) {
	cfg := config.DefaultConfig()
	ctx := config.WithContext(context.Background(), &cfg)
	loader, err := registrycache.Select("redis")
	require.NoError(t, err)
	_, err = loader(ctx)
	require.Error(t, err)
}
