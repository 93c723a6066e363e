package convsync

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chirino/conversation-sync/internal/model"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
)

// Remote is the network boundary the Service talks to.
type Remote interface {
	Upsert(ctx context.Context, conv model.Conversation) error
	List(ctx context.Context) ([]model.Conversation, error)
	Delete(ctx context.Context, threadID string) error
}

// RemoteError is returned when the remote answers with a non-2xx status.
type RemoteError struct {
	Op      string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: remote returned %d %s", e.Op, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s: remote returned %d: %s", e.Op, e.Status, e.Message)
}

// NotFound reports whether the remote answered 404.
func (e *RemoteError) NotFound() bool { return e.Status == http.StatusNotFound }

// StoreRemote is an in-process Remote backed directly by a ConversationStore.
type StoreRemote struct {
	Store registrystore.ConversationStore
}

func (r StoreRemote) Upsert(ctx context.Context, conv model.Conversation) error {
	title := conv.Title
	if title == "" {
		title = model.DefaultTitle
	}
	return r.Store.Upsert(ctx, conv.ThreadID, title, conv.Messages)
}

func (r StoreRemote) List(ctx context.Context) ([]model.Conversation, error) {
	return r.Store.ListAll(ctx)
}

func (r StoreRemote) Delete(ctx context.Context, threadID string) error {
	deleted, err := r.Store.DeleteByID(ctx, threadID)
	if err != nil {
		return err
	}
	if !deleted {
		return &registrystore.NotFoundError{Resource: "conversation", ID: threadID}
	}
	return nil
}

var _ Remote = StoreRemote{}
