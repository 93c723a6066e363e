package store

import (
	"context"
	"fmt"

	"github.com/chirino/conversation-sync/internal/model"
)

// ConversationStore is the collection-level data access interface. Every
// implementation is scoped to a single "conversations" collection/table keyed
// by threadId.
type ConversationStore interface {
	// ListAll returns every conversation, most recently updated first.
	ListAll(ctx context.Context) ([]model.Conversation, error)
	// GetByID returns the conversation with the given threadId, or nil when it
	// does not exist. A missing conversation is not an error.
	GetByID(ctx context.Context, threadID string) (*model.Conversation, error)
	// Upsert inserts the conversation when absent (createdAt = updatedAt = now)
	// or replaces its title, messages and updatedAt, leaving createdAt intact.
	Upsert(ctx context.Context, threadID string, title string, messages []model.Message) error
	// DeleteByID removes the conversation and reports whether one existed.
	DeleteByID(ctx context.Context, threadID string) (bool, error)
}

// Closer is implemented by stores that hold a connection that should be
// released on shutdown.
type Closer interface {
	Close(ctx context.Context) error
}

// Loader creates a ConversationStore from the config carried on ctx.
type Loader func(ctx context.Context) (ConversationStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
