package bdd

import (
	"context"

	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
)

// StoreTestDB clears data through the store interface so it works for every
// backend.
type StoreTestDB struct {
	Store registrystore.ConversationStore
}

func (db *StoreTestDB) ClearAll(ctx context.Context) error {
	convs, err := db.Store.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, conv := range convs {
		if _, err := db.Store.DeleteByID(ctx, conv.ThreadID); err != nil {
			return err
		}
	}
	return nil
}
