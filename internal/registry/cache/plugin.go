package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/conversation-sync/internal/model"
)

// ConversationCache caches single conversations by threadId. Implementations
// return (nil, nil) on a miss.
type ConversationCache interface {
	Available() bool
	Get(ctx context.Context, threadID string) (*model.Conversation, error)
	Set(ctx context.Context, conv model.Conversation, ttl time.Duration) error
	Remove(ctx context.Context, threadID string) error
}

// Loader creates a cache from the config carried on ctx.
type Loader func(ctx context.Context) (ConversationCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}

// Key returns the cache key used for a conversation.
func Key(threadID string) string {
	return "conversation:" + threadID
}
