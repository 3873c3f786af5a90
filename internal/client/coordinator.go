package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// ErrEmptyMessage rejects a send with neither text nor attachment.
var ErrEmptyMessage = errors.New("message has no content")

// Emitter is the outbound half of the push channel.
type Emitter interface {
	Emit(event string, payload any) error
}

// Coordinator accepts user-authored messages, resolves the target
// conversation, invokes persistence and reconciles the optimistic entry with
// the authoritative result. It also owns typing emission and mark-seen.
type Coordinator struct {
	api      API
	store    *MessageStore
	index    *ConversationIndex
	identity *Identity
	emitter  Emitter

	mu     sync.Mutex
	typing map[string]bool // last emitted typing state per conversation
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(api API, store *MessageStore, index *ConversationIndex, identity *Identity, emitter Emitter) *Coordinator {
	return &Coordinator{
		api:      api,
		store:    store,
		index:    index,
		identity: identity,
		emitter:  emitter,
		typing:   make(map[string]bool),
	}
}

// SendDirect sends a message to a recipient. If a direct conversation already
// exists the provisional entry is inserted immediately; otherwise the server
// creates the conversation on first send. On failure the provisional entry is
// rolled back and the error surfaced, there is no silent retry.
func (c *Coordinator) SendDirect(ctx context.Context, recipientID, content, imgURL string) (models.Message, error) {
	if content == "" && imgURL == "" {
		return models.Message{}, ErrEmptyMessage
	}

	conversationID := ""
	if conv, ok := c.index.DirectConversationWith(recipientID); ok {
		conversationID = conv.ID
	}

	provisional := c.provisional(conversationID, content, imgURL)
	if conversationID != "" {
		c.store.AppendProvisional(conversationID, provisional)
	}

	msg, err := c.api.SendDirect(ctx, SendDirectRequest{
		RecipientID:    recipientID,
		ConversationID: conversationID,
		Content:        content,
		ImgURL:         imgURL,
	})
	if err != nil {
		if conversationID != "" {
			c.store.Remove(conversationID, provisional.ID)
		}
		observability.IncSyncSendFailure()
		return models.Message{}, err
	}

	c.store.ResolveProvisional(msg.ConversationID, provisional.ID, msg)
	c.StopTyping(msg.ConversationID)
	return msg, nil
}

// SendGroup sends a message to an existing group conversation. Same contract
// as SendDirect with a fixed target.
func (c *Coordinator) SendGroup(ctx context.Context, conversationID, content, imgURL string) (models.Message, error) {
	if content == "" && imgURL == "" {
		return models.Message{}, ErrEmptyMessage
	}

	provisional := c.provisional(conversationID, content, imgURL)
	c.store.AppendProvisional(conversationID, provisional)

	msg, err := c.api.SendGroup(ctx, SendGroupRequest{
		ConversationID: conversationID,
		Content:        content,
		ImgURL:         imgURL,
	})
	if err != nil {
		c.store.Remove(conversationID, provisional.ID)
		observability.IncSyncSendFailure()
		return models.Message{}, err
	}

	c.store.ResolveProvisional(msg.ConversationID, provisional.ID, msg)
	c.StopTyping(msg.ConversationID)
	return msg, nil
}

// MarkSeen tells the server the current user has seen up to the latest
// message. The local unread count is cleared optimistically; the next
// read-message event carries the authoritative counts.
func (c *Coordinator) MarkSeen(ctx context.Context, conversationID string) error {
	c.index.ClearUnread(conversationID)
	return c.api.MarkSeen(ctx, conversationID)
}

// InputChanged emits the typing signal derived from the composer content.
// Only state transitions are emitted, not every keystroke.
func (c *Coordinator) InputChanged(conversationID, content string) {
	c.setTyping(conversationID, content != "")
}

// StopTyping forces a stopped-typing emission, used after a successful send
// and when the user switches away from a conversation, so the other end never
// sees a stuck indicator.
func (c *Coordinator) StopTyping(conversationID string) {
	if conversationID == "" {
		return
	}
	c.setTyping(conversationID, false)
}

func (c *Coordinator) setTyping(conversationID string, isTyping bool) {
	c.mu.Lock()
	last, seen := c.typing[conversationID]
	if seen && last == isTyping {
		c.mu.Unlock()
		return
	}
	c.typing[conversationID] = isTyping
	c.mu.Unlock()

	// Best effort: a down channel just means the indicator is lost, which is
	// what the other end assumes on disconnect anyway.
	_ = c.emitter.Emit(models.EventTyping, typingEvent(conversationID, isTyping))
}

func (c *Coordinator) provisional(conversationID, content, imgURL string) models.Message {
	return models.Message{
		ID:             "tmp-" + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       c.identity.UserID(),
		Content:        content,
		ImgURL:         imgURL,
		CreatedAt:      time.Now().UTC(),
	}
}
