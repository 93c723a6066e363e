// Package storetest holds behaviour checks shared by every ConversationStore
// backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chirino/conversation-sync/internal/model"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store ready for use.
type Factory func(t *testing.T) (registrystore.ConversationStore, context.Context)

// Run executes the shared store checks against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore) })
	t.Run("UpsertInsertsThenReplaces", func(t *testing.T) { testUpsertReplaces(t, newStore) })
	t.Run("ListAllNewestFirst", func(t *testing.T) { testListOrder(t, newStore) })
	t.Run("DeleteReportsExistence", func(t *testing.T) { testDelete(t, newStore) })
	t.Run("EmptyMessages", func(t *testing.T) { testEmptyMessages(t, newStore) })
	t.Run("ConcurrentFirstSave", func(t *testing.T) { testConcurrentFirstSave(t, newStore) })
}

// Messages builds a user/assistant exchange starting at base.
func Messages(base time.Time, pairs ...string) []model.Message {
	out := make([]model.Message, 0, len(pairs))
	for i, content := range pairs {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		out = append(out, model.Message{
			ID:        uuid.NewString(),
			Role:      role,
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Second).UTC().Truncate(time.Millisecond),
		})
	}
	return out
}

func testGetMissing(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)

	got, err := s.GetByID(ctx, "t-"+uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testUpsertReplaces(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	threadID := "t-" + uuid.NewString()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, s.Upsert(ctx, threadID, "First", Messages(base, "Hello", "Hi there")))
	first, err := s.GetByID(ctx, threadID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, threadID, first.ThreadID)
	assert.Equal(t, "First", first.Title)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, model.RoleUser, first.Messages[0].Role)
	assert.Equal(t, "Hello", first.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, first.Messages[1].Role)
	assert.Equal(t, "Hi there", first.Messages[1].Content)
	assert.False(t, first.CreatedAt.IsZero())
	assert.False(t, first.UpdatedAt.IsZero())

	time.Sleep(20 * time.Millisecond)

	second := Messages(base, "Hello", "Hi there", "How are you?")
	require.NoError(t, s.Upsert(ctx, threadID, "Renamed", second))

	got, err := s.GetByID(ctx, threadID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Renamed", got.Title)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "How are you?", got.Messages[2].Content)
	assert.Equal(t, second[2].ID, got.Messages[2].ID)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt), "createdAt changed: %v -> %v", first.CreatedAt, got.CreatedAt)
	assert.True(t, got.UpdatedAt.After(first.UpdatedAt), "updatedAt not advanced")

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	count := 0
	for _, c := range all {
		if c.ThreadID == threadID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func testListOrder(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	prefix := uuid.NewString()
	ids := []string{prefix + "-a", prefix + "-b", prefix + "-c"}
	for _, id := range ids {
		require.NoError(t, s.Upsert(ctx, id, id, Messages(time.Now(), "q")))
		time.Sleep(20 * time.Millisecond)
	}
	// Touch the oldest so it becomes the newest.
	require.NoError(t, s.Upsert(ctx, ids[0], "touched", Messages(time.Now(), "q", "a")))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)

	var order []string
	for _, c := range all {
		for _, id := range ids {
			if c.ThreadID == id {
				order = append(order, id)
			}
		}
	}
	assert.Equal(t, []string{ids[0], ids[2], ids[1]}, order)

	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].UpdatedAt.After(all[i-1].UpdatedAt), "list not sorted by updatedAt desc")
	}
}

func testDelete(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	threadID := "t-" + uuid.NewString()

	deleted, err := s.DeleteByID(ctx, threadID)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, s.Upsert(ctx, threadID, "Doomed", Messages(time.Now(), "bye")))
	deleted, err = s.DeleteByID(ctx, threadID)
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err := s.GetByID(ctx, threadID)
	require.NoError(t, err)
	assert.Nil(t, got)

	deleted, err = s.DeleteByID(ctx, threadID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testEmptyMessages(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	threadID := "t-" + uuid.NewString()

	require.NoError(t, s.Upsert(ctx, threadID, "Empty", nil))
	got, err := s.GetByID(ctx, threadID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotNil(t, got.Messages)
	assert.Empty(t, got.Messages)
}

func testConcurrentFirstSave(t *testing.T, newStore Factory) {
	s, ctx := newStore(t)
	threadID := "t-" + uuid.NewString()

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Upsert(ctx, threadID, fmt.Sprintf("writer %d", i), Messages(time.Now(), "race"))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	count := 0
	for _, c := range all {
		if c.ThreadID == threadID {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
