package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/conversation-sync/internal/plugin/store/memory"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"github.com/chirino/conversation-sync/internal/registry/store/storetest"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (registrystore.ConversationStore, context.Context) {
		return memory.New(), context.Background()
	})
}

func TestRegisteredLoader(t *testing.T) {
	loader, err := registrystore.Select("memory")
	require.NoError(t, err)
	s, err := loader(context.Background())
	require.NoError(t, err)
	require.IsType(t, &memory.MemoryStore{}, s)
}

func TestReturnedConversationsAreCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "t1", "Title", storetest.Messages(time.Now(), "Hello")))

	got, err := s.GetByID(ctx, "t1")
	require.NoError(t, err)
	got.Messages[0].Content = "mutated"

	again, err := s.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "Hello", again.Messages[0].Content)
}
