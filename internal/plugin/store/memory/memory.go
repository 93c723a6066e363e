package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chirino/conversation-sync/internal/model"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrystore.ConversationStore, error) {
			return New(), nil
		},
	})
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// MemoryStore keeps conversations in a process-local map. Data is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]model.Conversation
	now   func() time.Time
}

// New returns an empty store.
func New() *MemoryStore {
	return &MemoryStore{convs: map[string]model.Conversation{}, now: time.Now}
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]model.Conversation, error) {
	s.mu.RLock()
	out := make([]model.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, clone(c))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ThreadID < out[j].ThreadID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, threadID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[threadID]
	if !ok {
		return nil, nil
	}
	c = clone(c)
	return &c, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, threadID string, title string, messages []model.Message) error {
	if err := ctx.Err(); err != nil {
		return registrystore.WrapStorage("upsert conversation", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	c, ok := s.convs[threadID]
	if !ok {
		c = model.Conversation{ThreadID: threadID, CreatedAt: now}
	}
	c.Title = title
	c.Messages = append([]model.Message{}, messages...)
	c.UpdatedAt = now
	s.convs[threadID] = c
	return nil
}

func (s *MemoryStore) DeleteByID(ctx context.Context, threadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[threadID]; !ok {
		return false, nil
	}
	delete(s.convs, threadID)
	return true, nil
}

func clone(c model.Conversation) model.Conversation {
	c.Messages = append([]model.Message{}, c.Messages...)
	return c
}
