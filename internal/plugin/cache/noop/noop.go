package noop

import (
	"context"
	"time"

	"github.com/chirino/conversation-sync/internal/model"
	"github.com/chirino/conversation-sync/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.ConversationCache, error) {
			return &noopCache{}, nil
		},
	})
}

type noopCache struct{}

func (n *noopCache) Available() bool { return false }
func (n *noopCache) Get(_ context.Context, _ string) (*model.Conversation, error) {
	return nil, nil
}
func (n *noopCache) Set(_ context.Context, _ model.Conversation, _ time.Duration) error {
	return nil
}
func (n *noopCache) Remove(_ context.Context, _ string) error { return nil }

var _ cache.ConversationCache = (*noopCache)(nil)
