package cached_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chirino/conversation-sync/internal/model"
	"github.com/chirino/conversation-sync/internal/plugin/cache/local"
	"github.com/chirino/conversation-sync/internal/plugin/store/cached"
	"github.com/chirino/conversation-sync/internal/plugin/store/memory"
	registrycache "github.com/chirino/conversation-sync/internal/registry/cache"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"github.com/chirino/conversation-sync/internal/registry/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts GetByID calls that reach the backing store.
type countingStore struct {
	registrystore.ConversationStore
	mu   sync.Mutex
	gets int
}

func (c *countingStore) GetByID(ctx context.Context, threadID string) (*model.Conversation, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.ConversationStore.GetByID(ctx, threadID)
}

// brokenCache fails every call.
type brokenCache struct{}

func (brokenCache) Available() bool { return true }
func (brokenCache) Get(context.Context, string) (*model.Conversation, error) {
	return nil, errors.New("cache down")
}
func (brokenCache) Set(context.Context, model.Conversation, time.Duration) error {
	return errors.New("cache down")
}
func (brokenCache) Remove(context.Context, string) error { return errors.New("cache down") }

var _ registrycache.ConversationCache = brokenCache{}

func newLocal(t *testing.T) *local.LocalCache {
	t.Helper()
	c, err := local.New(100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCachedStoreBehavesLikeInner(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (registrystore.ConversationStore, context.Context) {
		return cached.Wrap(memory.New(), newLocal(t), time.Minute), context.Background()
	})
}

func TestReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{ConversationStore: memory.New()}
	s := cached.Wrap(inner, newLocal(t), time.Minute)

	require.NoError(t, s.Upsert(ctx, "t1", "One", storetest.Messages(time.Now(), "Hello")))

	for i := 0; i < 3; i++ {
		got, err := s.GetByID(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, "One", got.Title)
	}
	assert.Equal(t, 1, inner.gets)

	require.NoError(t, s.Upsert(ctx, "t1", "Two", storetest.Messages(time.Now(), "Hello")))
	got, err := s.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Two", got.Title)
	assert.Equal(t, 2, inner.gets)

	deleted, err := s.DeleteByID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, deleted)
	got, err = s.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBrokenCacheFallsThrough(t *testing.T) {
	ctx := context.Background()
	s := cached.Wrap(memory.New(), brokenCache{}, time.Minute)

	require.NoError(t, s.Upsert(ctx, "t1", "One", nil))
	got, err := s.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "One", got.Title)
}

func TestUnavailableCacheIsBypassed(t *testing.T) {
	inner := memory.New()
	assert.Same(t, registrystore.ConversationStore(inner), cached.Wrap(inner, nil, time.Minute))
}

// pausingStore hands back its result only after release is closed, after
// signalling on read that the backing row was loaded.
type pausingStore struct {
	registrystore.ConversationStore
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStore) GetByID(ctx context.Context, threadID string) (*model.Conversation, error) {
	conv, err := p.ConversationStore.GetByID(ctx, threadID)
	close(p.read)
	<-p.release
	return conv, err
}

func TestReadRacingWriteDoesNotCacheStaleRow(t *testing.T) {
	ctx := context.Background()
	backing := memory.New()
	require.NoError(t, backing.Upsert(ctx, "t1", "Old", nil))

	c := newLocal(t)
	paused := &pausingStore{ConversationStore: backing, read: make(chan struct{}), release: make(chan struct{})}
	s := cached.Wrap(paused, c, time.Minute)

	done := make(chan *model.Conversation)
	go func() {
		got, err := s.GetByID(ctx, "t1")
		assert.NoError(t, err)
		done <- got
	}()

	// The reader has loaded "Old"; a write lands before it fills the cache.
	<-paused.read
	require.NoError(t, s.Upsert(ctx, "t1", "New", nil))
	close(paused.release)
	require.Equal(t, "Old", (<-done).Title)

	cachedConv, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, cachedConv)

	got, err := backing.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "New", got.Title)
}
