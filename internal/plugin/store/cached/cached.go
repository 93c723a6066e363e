package cached

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-sync/internal/model"
	registrycache "github.com/chirino/conversation-sync/internal/registry/cache"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"github.com/chirino/conversation-sync/internal/telemetry"
)

// Wrap serves GetByID from c and invalidates entries on writes. Cache failures
// are logged and the call falls through to inner. When c is nil or not
// available, inner is returned unchanged.
func Wrap(inner registrystore.ConversationStore, c registrycache.ConversationCache, ttl time.Duration) registrystore.ConversationStore {
	if c == nil || !c.Available() {
		return inner
	}
	return &cachedStore{inner: inner, cache: c, ttl: ttl}
}

type cachedStore struct {
	inner registrystore.ConversationStore
	cache registrycache.ConversationCache
	ttl   time.Duration

	// writes is bumped by every write before it invalidates. A read that
	// sees it change while filling the cache drops what it stored.
	writes atomic.Uint64
}

func (s *cachedStore) ListAll(ctx context.Context) ([]model.Conversation, error) {
	return s.inner.ListAll(ctx)
}

func (s *cachedStore) GetByID(ctx context.Context, threadID string) (*model.Conversation, error) {
	conv, err := s.cache.Get(ctx, threadID)
	if err != nil {
		log.Warn("Cache read failed", "threadId", threadID, "err", err)
	} else if conv != nil {
		telemetry.CountCache(true)
		return conv, nil
	}
	telemetry.CountCache(false)

	gen := s.writes.Load()
	conv, err = s.inner.GetByID(ctx, threadID)
	if err != nil || conv == nil {
		return conv, err
	}
	if err := s.cache.Set(ctx, *conv, s.ttl); err != nil {
		log.Warn("Cache write failed", "threadId", threadID, "err", err)
		return conv, nil
	}
	if s.writes.Load() != gen {
		// A write may have landed after our read; the entry could be stale.
		s.invalidate(ctx, threadID)
	}
	return conv, nil
}

func (s *cachedStore) Upsert(ctx context.Context, threadID string, title string, messages []model.Message) error {
	err := s.inner.Upsert(ctx, threadID, title, messages)
	s.writes.Add(1)
	s.invalidate(ctx, threadID)
	return err
}

func (s *cachedStore) DeleteByID(ctx context.Context, threadID string) (bool, error) {
	deleted, err := s.inner.DeleteByID(ctx, threadID)
	s.writes.Add(1)
	s.invalidate(ctx, threadID)
	return deleted, err
}

// Close forwards to the wrapped store when it holds a connection.
func (s *cachedStore) Close(ctx context.Context) error {
	if c, ok := s.inner.(registrystore.Closer); ok {
		return c.Close(ctx)
	}
	return nil
}

func (s *cachedStore) invalidate(ctx context.Context, threadID string) {
	if err := s.cache.Remove(ctx, threadID); err != nil {
		log.Warn("Cache invalidation failed", "threadId", threadID, "err", err)
	}
}
