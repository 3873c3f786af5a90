package models

import "time"

// Conversation kinds.
const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// Participant is a member of a conversation.
type Participant struct {
	ID          string    `json:"id" db:"user_id"`
	DisplayName string    `json:"displayName" db:"display_name"`
	AvatarURL   string    `json:"avatarUrl,omitempty" db:"avatar_url"`
	JoinedAt    time.Time `json:"joinedAt" db:"joined_at"`
}

// Group carries the extra fields of a group conversation.
type Group struct {
	Name      string `json:"name" db:"group_name"`
	CreatedBy string `json:"createdBy" db:"group_created_by"`
}

// LastMessage is the summary of the most recently accepted message.
type LastMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a direct (exactly two participants) or group chat thread.
// UnreadCounts maps participant id to the number of messages that participant
// has not seen; SeenBy lists the participants who have seen LastMessage.
type Conversation struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Group         *Group         `json:"group,omitempty"`
	Participants  []Participant  `json:"participants"`
	LastMessage   *LastMessage   `json:"lastMessage"`
	LastMessageAt time.Time      `json:"lastMessageAt"`
	UnreadCounts  map[string]int `json:"unreadCounts"`
	SeenBy        []string       `json:"seenBy"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// HasParticipant reports whether the user belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}
