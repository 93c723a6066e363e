package metrics

import (
	"context"
	"time"

	"github.com/chirino/conversation-sync/internal/model"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"github.com/chirino/conversation-sync/internal/telemetry"
)

// Wrap returns a ConversationStore that records StoreLatency for every operation.
func Wrap(inner registrystore.ConversationStore) registrystore.ConversationStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner registrystore.ConversationStore
}

func (m *metricsStore) ListAll(ctx context.Context) ([]model.Conversation, error) {
	defer telemetry.ObserveStore("list_all", time.Now())
	return m.inner.ListAll(ctx)
}

func (m *metricsStore) GetByID(ctx context.Context, threadID string) (*model.Conversation, error) {
	defer telemetry.ObserveStore("get_by_id", time.Now())
	return m.inner.GetByID(ctx, threadID)
}

func (m *metricsStore) Upsert(ctx context.Context, threadID string, title string, messages []model.Message) error {
	defer telemetry.ObserveStore("upsert", time.Now())
	return m.inner.Upsert(ctx, threadID, title, messages)
}

func (m *metricsStore) DeleteByID(ctx context.Context, threadID string) (bool, error) {
	defer telemetry.ObserveStore("delete_by_id", time.Now())
	return m.inner.DeleteByID(ctx, threadID)
}

// Close forwards to the wrapped store when it holds a connection.
func (m *metricsStore) Close(ctx context.Context) error {
	if c, ok := m.inner.(registrystore.Closer); ok {
		return c.Close(ctx)
	}
	return nil
}
