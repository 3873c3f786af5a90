package models

import "encoding/json"

// Events pushed by the server over the websocket channel.
const (
	EventOnlineUsers = "online-users"
	EventUserTyping  = "user-typing"
	EventNewMessage  = "new-message"
	EventReadMessage = "read-message"
	EventNewGroup    = "new-group"
)

// Events emitted by clients.
const (
	EventTyping            = "typing"
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
)

// Envelope frames every websocket payload in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope marshals payload into an envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// TypingEvent signals that a user started or stopped typing. UserID is filled
// by the server when relaying; clients never receive their own typing echo.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// NewMessageEvent announces an accepted message together with the updated
// conversation summary and authoritative unread counts.
type NewMessageEvent struct {
	Message      Message        `json:"message"`
	Conversation Conversation   `json:"conversation"`
	UnreadCounts map[string]int `json:"unreadCounts"`
}

// ReadMessageEvent announces that a participant has seen the latest message.
type ReadMessageEvent struct {
	Conversation Conversation `json:"conversation"`
	LastMessage  *LastMessage `json:"lastMessage"`
}

// JoinEvent subscribes or unsubscribes a connection to a conversation room.
type JoinEvent struct {
	ConversationID string `json:"conversationId"`
}
