package models

import "time"

// Message is a chat message. ID is server-assigned and immutable once
// persisted; a locally optimistic message carries a temporary "tmp-" id until
// the authoritative record replaces it.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversationId" db:"conversation_id"`
	SenderID       string    `json:"senderId" db:"sender_id"`
	Content        string    `json:"content" db:"content"`
	ImgURL         string    `json:"imgUrl,omitempty" db:"img_url"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// Summary converts the message into a LastMessage summary.
func (m Message) Summary() *LastMessage {
	return &LastMessage{
		ID:        m.ID,
		Content:   m.Content,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
	}
}

// Before orders messages by createdAt ascending, tie-broken by id so the
// ordering is deterministic regardless of arrival order.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
