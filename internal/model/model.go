package model

import (
	"time"
)

// DefaultTitle is stored when a conversation is saved without a title.
const DefaultTitle = "New Conversation"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single turn embedded in a Conversation. It has no identity
// outside of its parent conversation.
type Message struct {
	ID        string    `json:"id"        bson:"id"`
	Role      Role      `json:"role"      bson:"role"`
	Content   string    `json:"content"   bson:"content"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Conversation is the persisted, flattened form of a thread. ThreadID is the
// natural key; the store's own generated identifier is never exposed.
type Conversation struct {
	ThreadID  string    `json:"threadId"  bson:"threadId"`
	Title     string    `json:"title"     bson:"title"`
	Messages  []Message `json:"messages"  bson:"messages"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Thread is the application's local representation of a conversation. It
// carries fields the persisted Conversation does not.
type Thread struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Pinned    bool       `json:"pinned"`
	PinnedAt  *time.Time `json:"pinnedAt"`
}

// Answer is the assistant side of an Item.
type Answer struct {
	Text string `json:"text"`
}

// Item is a single local turn. An item may carry a query, an answer, or both,
// and links to its parent so that the local model can branch.
type Item struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	ParentID  *string   `json:"parentId"`
	Query     string    `json:"query,omitempty"`
	Answer    *Answer   `json:"answer,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AnswerText returns the answer text or "" when the item has no answer.
func (i Item) AnswerText() string {
	if i.Answer == nil {
		return ""
	}
	return i.Answer.Text
}
