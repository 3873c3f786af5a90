package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/ws"
)

// DefaultPageLimit caps a message page when the client does not ask for one.
const DefaultPageLimit = 50

// MaxPageLimit bounds a single history page.
const MaxPageLimit = 200

// ConversationHandler manages conversation endpoints.
type ConversationHandler struct {
	convRepo    repositories.ConversationRepository
	messageRepo repositories.MessageRepository
	hub         *ws.Hub
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, hub *ws.Hub) *ConversationHandler {
	return &ConversationHandler{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		hub:         hub,
	}
}

// List returns the authenticated user's conversations, newest activity first.
func (h *ConversationHandler) List(c *gin.Context) {
	userID := c.GetString("userID")

	conversations, err := h.convRepo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// GetMessages returns one history page in ascending timestamp order. An empty
// cursor requests the newest page; a null cursor in the response means the
// start of history was reached.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	limit := DefaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	msgs, cursor, err := h.messageRepo.ListPage(c.Request.Context(), conversationID, c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, repositories.ErrBadCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs, "cursor": cursor})
}

// MarkSeen records that the user has caught up with the conversation and
// pushes the authoritative counts to every participant.
func (h *ConversationHandler) MarkSeen(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := c.GetString("userID")

	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	if err := h.convRepo.MarkSeen(c.Request.Context(), conversationID, userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not mark seen"})
		return
	}

	conversation, err := h.convRepo.Get(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}

	h.hub.BroadcastReadMessage(participantIDs(conversation), models.ReadMessageEvent{
		Conversation: conversation,
		LastMessage:  conversation.LastMessage,
	})
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateGroup creates a group conversation and announces it to the members.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name      string   `json:"name" binding:"required"`
		MemberIDs []string `json:"memberIds" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	conversation, err := h.convRepo.CreateGroup(c.Request.Context(), req.Name, userID, req.MemberIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.hub.BroadcastNewGroup(participantIDs(conversation), conversation)
	c.JSON(http.StatusCreated, gin.H{"conversation": conversation})
}

func participantIDs(conversation models.Conversation) []string {
	out := make([]string, 0, len(conversation.Participants))
	for _, p := range conversation.Participants {
		out = append(out, p.ID)
	}
	return out
}
