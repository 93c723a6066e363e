package conversations

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-sync/internal/model"
	registryroute "github.com/chirino/conversation-sync/internal/registry/route"
	registrystore "github.com/chirino/conversation-sync/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// Error messages returned in {"error": ...} bodies.
const (
	ErrMissingFields = "Missing required fields"
	ErrInvalidBody   = "Invalid request body"
	ErrInvalidRole   = "Invalid message role"
	ErrTooLarge      = "Request body too large"
	ErrNotFound      = "Conversation not found"
	ErrFetchAll      = "Failed to fetch conversations"
	ErrSave          = "Failed to save conversation"
	ErrFetchOne      = "Failed to fetch conversation"
	ErrDelete        = "Failed to delete conversation"
)

const defaultRoutePrefix = "/api"

// MountRoutes mounts the conversation routes under prefix (default "/api").
// Called after store initialization so the store is available.
func MountRoutes(r gin.IRouter, store registrystore.ConversationStore, prefix string) {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRoutePrefix
	}
	g := r.Group(prefix)

	g.GET("/conversations", func(c *gin.Context) {
		listConversations(c, store)
	})
	g.POST("/conversations", func(c *gin.Context) {
		saveConversation(c, store)
	})
	g.GET("/conversations/:id", func(c *gin.Context) {
		getConversation(c, store)
	})
	g.DELETE("/conversations/:id", func(c *gin.Context) {
		deleteConversation(c, store)
	})
}

// SaveRequest is the POST /conversations body. A nil Messages slice means the
// field was absent or null; an empty array is accepted.
type SaveRequest struct {
	ThreadID string        `json:"threadId"`
	Title    string        `json:"title,omitempty"`
	Messages []WireMessage `json:"messages"`
}

// WireMessage is a message as sent by clients. ID and Timestamp are optional.
type WireMessage struct {
	ID        string     `json:"id,omitempty"`
	Role      model.Role `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func listConversations(c *gin.Context, store registrystore.ConversationStore) {
	convs, err := store.ListAll(c.Request.Context())
	if err != nil {
		handleError(c, err, ErrFetchAll)
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func saveConversation(c *gin.Context, store registrystore.ConversationStore) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": ErrTooLarge})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrInvalidBody})
		return
	}
	if req.ThreadID == "" || req.Messages == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrMissingFields})
		return
	}

	now := time.Now().UTC()
	messages := make([]model.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if !m.Role.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": ErrInvalidRole, "role": m.Role})
			return
		}
		msg := model.Message{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: now,
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if m.Timestamp != nil && !m.Timestamp.IsZero() {
			msg.Timestamp = m.Timestamp.UTC()
		}
		messages = append(messages, msg)
	}

	title := req.Title
	if title == "" {
		title = model.DefaultTitle
	}

	if err := store.Upsert(c.Request.Context(), req.ThreadID, title, messages); err != nil {
		handleError(c, err, ErrSave)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func getConversation(c *gin.Context, store registrystore.ConversationStore) {
	threadID := c.Param("id")
	conv, err := store.GetByID(c.Request.Context(), threadID)
	if err != nil {
		handleError(c, err, ErrFetchOne)
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func deleteConversation(c *gin.Context, store registrystore.ConversationStore) {
	threadID := c.Param("id")
	deleted, err := store.DeleteByID(c.Request.Context(), threadID)
	if err != nil {
		handleError(c, err, ErrDelete)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleError logs the failure with its kind and answers with a 500 and the
// route's fixed message. Store details never reach the client.
func handleError(c *gin.Context, err error, message string) {
	_ = c.Error(err)
	log.Error(message,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"kind", registrystore.Kind(err),
		"err", err,
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}
