package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/ws"
)

// MessageHandler manages message send endpoints.
type MessageHandler struct {
	convRepo    repositories.ConversationRepository
	messageRepo repositories.MessageRepository
	hub         *ws.Hub
	emitter     *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, hub *ws.Hub, emitter *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		hub:         hub,
		emitter:     emitter,
	}
}

// SendDirect stores a direct message. When no conversation exists between the
// two users yet, one is created as part of the send.
func (h *MessageHandler) SendDirect(c *gin.Context) {
	var req struct {
		RecipientID    string `json:"recipientId" binding:"required"`
		ConversationID string `json:"conversationId"`
		Content        string `json:"content"`
		ImgURL         string `json:"imgUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Content == "" && req.ImgURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message has no content"})
		return
	}

	userID := c.GetString("userID")
	if userID == req.RecipientID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot message yourself"})
		return
	}

	conversation, err := h.resolveDirect(c, userID, req.RecipientID, req.ConversationID)
	if err != nil {
		return // response already written
	}
	if !conversation.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	h.accept(c, conversation, userID, req.Content, req.ImgURL)
}

// SendGroup stores a message in an existing group conversation.
func (h *MessageHandler) SendGroup(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversationId" binding:"required"`
		Content        string `json:"content"`
		ImgURL         string `json:"imgUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Content == "" && req.ImgURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message has no content"})
		return
	}

	userID := c.GetString("userID")
	conversation, err := h.convRepo.Get(c.Request.Context(), req.ConversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if conversation.Type != models.ConversationGroup {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a group conversation"})
		return
	}
	if !conversation.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	h.accept(c, conversation, userID, req.Content, req.ImgURL)
}

// resolveDirect finds or creates the direct conversation for the send. Writes
// the error response itself so callers can just bail out.
func (h *MessageHandler) resolveDirect(c *gin.Context, userID, recipientID, conversationID string) (models.Conversation, error) {
	ctx := c.Request.Context()
	if conversationID != "" {
		conversation, err := h.convRepo.Get(ctx, conversationID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrConversationNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": "conversation not found"})
			return models.Conversation{}, err
		}
		return conversation, nil
	}

	conversation, err := h.convRepo.GetDirect(ctx, userID, recipientID)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, repositories.ErrConversationNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve conversation"})
		return models.Conversation{}, err
	}

	conversation, err = h.convRepo.CreateDirect(ctx, userID, recipientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return models.Conversation{}, err
	}
	return conversation, nil
}

// accept persists the message, moves the conversation forward and fans the
// push event out to every participant.
func (h *MessageHandler) accept(c *gin.Context, conversation models.Conversation, senderID, content, imgURL string) {
	ctx := c.Request.Context()

	msg, err := h.messageRepo.Create(ctx, conversation.ID, senderID, content, imgURL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	counts, err := h.convRepo.RecordMessage(ctx, msg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update conversation"})
		return
	}

	// Reload so the broadcast carries the post-send summary.
	updated, err := h.convRepo.Get(ctx, conversation.ID)
	if err != nil {
		updated = conversation
	}

	h.hub.BroadcastNewMessage(participantIDs(updated), models.NewMessageEvent{
		Message:      msg,
		Conversation: updated,
		UnreadCounts: counts,
	})

	h.emitter.Emit(ctx, telemetry.AuditPayload{
		Level:          "INFO",
		Text:           "message accepted",
		ConversationID: conversation.ID,
		MessageID:      msg.ID,
		SenderID:       senderID,
	}, requestIDFromContext(c), userIDFromContext(c))

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}
