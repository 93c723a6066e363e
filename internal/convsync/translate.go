package convsync

import (
	"sort"
	"time"

	"github.com/chirino/conversation-sync/internal/model"
)

// FromLocalFormat flattens a thread and its items into the persisted
// Conversation shape. Items are ordered by CreatedAt (stable for ties) and
// UpdatedAt is set to the current time.
func FromLocalFormat(thread model.Thread, items []model.Item) model.Conversation {
	return fromLocal(thread, items, time.Now())
}

func fromLocal(thread model.Thread, items []model.Item, now time.Time) model.Conversation {
	sorted := append([]model.Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	messages := make([]model.Message, 0, len(sorted))
	for _, item := range sorted {
		messages = append(messages, itemToMessage(item))
	}
	return model.Conversation{
		ThreadID:  thread.ID,
		Title:     thread.Title,
		Messages:  messages,
		CreatedAt: thread.CreatedAt,
		UpdatedAt: now,
	}
}

// itemToMessage infers the role from the query: an item with a query is a
// user turn, anything else is an assistant turn.
func itemToMessage(item model.Item) model.Message {
	role := model.RoleAssistant
	content := item.AnswerText()
	if item.Query != "" {
		role = model.RoleUser
		content = item.Query
	}
	return model.Message{
		ID:        item.ID,
		Role:      role,
		Content:   content,
		Timestamp: item.CreatedAt,
	}
}

// ToLocalFormat rebuilds a thread and its items from a persisted Conversation.
//
// The persisted shape is lossy: the thread comes back unpinned with a nil
// PinnedAt, and items form a linear chain where each parent is the previous
// message. Branches in the original item graph are not recoverable.
func ToLocalFormat(conv model.Conversation) (model.Thread, []model.Item) {
	thread := model.Thread{
		ID:        conv.ThreadID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Pinned:    false,
		PinnedAt:  nil,
	}

	items := make([]model.Item, 0, len(conv.Messages))
	var parentID *string
	for _, msg := range conv.Messages {
		item := model.Item{
			ID:        msg.ID,
			ThreadID:  conv.ThreadID,
			ParentID:  parentID,
			CreatedAt: msg.Timestamp,
			UpdatedAt: msg.Timestamp,
		}
		if msg.Role == model.RoleUser {
			item.Query = msg.Content
		} else {
			item.Answer = &model.Answer{Text: msg.Content}
		}
		items = append(items, item)

		id := msg.ID
		parentID = &id
	}
	return thread, items
}
