package client

import (
	"sort"
	"sync"
	"time"

	"chat-sync/internal/models"
)

// ConversationPatch is a partial update applied to a conversation by a live
// event. Nil fields are left untouched.
type ConversationPatch struct {
	ID            string
	Participants  []models.Participant
	Group         *models.Group
	LastMessage   *models.LastMessage
	LastMessageAt *time.Time
	UnreadCounts  map[string]int
	SeenBy        *[]string
}

// ConversationIndex maps conversation ids to their summaries, kept current by
// fetch results (wholesale replace) and live events (partial merge). Only the
// reconciler and the send coordinator mutate it.
type ConversationIndex struct {
	mu            sync.RWMutex
	identity      *Identity
	conversations map[string]*models.Conversation
	activeID      string
}

// NewConversationIndex builds an empty index bound to identity.
func NewConversationIndex(identity *Identity) *ConversationIndex {
	return &ConversationIndex{
		identity:      identity,
		conversations: make(map[string]*models.Conversation),
	}
}

// ReplaceAll swaps in a freshly fetched conversation list.
func (x *ConversationIndex) ReplaceAll(conversations []models.Conversation) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.conversations = make(map[string]*models.Conversation, len(conversations))
	for i := range conversations {
		c := conversations[i]
		x.conversations[c.ID] = &c
	}
}

// Insert adds a conversation announced by a new-group event. A known id is
// replaced wholesale, an insert is not a merge.
func (x *ConversationIndex) Insert(conversation models.Conversation) {
	x.mu.Lock()
	defer x.mu.Unlock()
	c := conversation
	x.conversations[c.ID] = &c
}

// Upsert merges a partial update into the matching conversation. A patch for
// an unknown id is ignored; the conversation must first arrive via ReplaceAll
// or Insert. Returns whether the patch was applied.
//
// When the patch carries a new lastMessage from another user and the
// conversation is not active, the local unread count is bumped as an
// optimistic fallback, but a server-provided unreadCounts map always wins.
func (x *ConversationIndex) Upsert(patch ConversationPatch) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	c, ok := x.conversations[patch.ID]
	if !ok {
		return false
	}

	if patch.Participants != nil {
		c.Participants = patch.Participants
	}
	if patch.Group != nil {
		c.Group = patch.Group
	}
	if patch.LastMessage != nil {
		if advancesLastMessage(c, patch.LastMessage) {
			c.LastMessage = patch.LastMessage
			c.LastMessageAt = patch.LastMessage.CreatedAt
		}

		me := x.identity.UserID()
		if patch.UnreadCounts == nil && patch.LastMessage.SenderID != me && c.ID != x.activeID {
			if c.UnreadCounts == nil {
				c.UnreadCounts = make(map[string]int)
			}
			c.UnreadCounts[me]++
		}
	}
	if patch.LastMessageAt != nil && patch.LastMessageAt.After(c.LastMessageAt) {
		c.LastMessageAt = *patch.LastMessageAt
	}
	if patch.UnreadCounts != nil {
		c.UnreadCounts = patch.UnreadCounts
	}
	if patch.SeenBy != nil {
		c.SeenBy = *patch.SeenBy
	}
	return true
}

// advancesLastMessage reports whether lm is at or past the conversation's
// current last-message position. lastMessage only ever moves forward in
// createdAt order, tie-broken by id, so patches arriving out of order can
// never regress it.
func advancesLastMessage(c *models.Conversation, lm *models.LastMessage) bool {
	if lm.CreatedAt.After(c.LastMessageAt) {
		return true
	}
	if !lm.CreatedAt.Equal(c.LastMessageAt) {
		return false
	}
	return c.LastMessage == nil || lm.ID >= c.LastMessage.ID
}

// SetActive marks the conversation currently open; an empty id means none.
func (x *ConversationIndex) SetActive(conversationID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.activeID = conversationID
}

// ActiveID returns the currently open conversation id, empty if none.
func (x *ConversationIndex) ActiveID() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.activeID
}

// Get returns a copy of the conversation by id.
func (x *ConversationIndex) Get(conversationID string) (models.Conversation, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	c, ok := x.conversations[conversationID]
	if !ok {
		return models.Conversation{}, false
	}
	return *c, true
}

// Conversations returns all conversations ordered by lastMessageAt, newest
// first.
func (x *ConversationIndex) Conversations() []models.Conversation {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]models.Conversation, 0, len(x.conversations))
	for _, c := range x.conversations {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// DirectConversationWith finds the existing direct conversation between the
// current user and userID.
func (x *ConversationIndex) DirectConversationWith(userID string) (models.Conversation, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	for _, c := range x.conversations {
		if c.Type == models.ConversationDirect && c.HasParticipant(userID) {
			return *c, true
		}
	}
	return models.Conversation{}, false
}

// ClearUnread optimistically zeroes the current user's unread count and adds
// them to seenBy, ahead of the authoritative read-message event.
func (x *ConversationIndex) ClearUnread(conversationID string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	c, ok := x.conversations[conversationID]
	if !ok {
		return
	}
	me := x.identity.UserID()
	if c.UnreadCounts != nil {
		c.UnreadCounts[me] = 0
	}
	for _, id := range c.SeenBy {
		if id == me {
			return
		}
	}
	c.SeenBy = append(c.SeenBy, me)
}

// Reset drops all conversations and the active marker, for logout.
func (x *ConversationIndex) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.conversations = make(map[string]*models.Conversation)
	x.activeID = ""
}
